package model

import "time"

// PredictionRecord is one immutable result of a single submission to the
// inference service. Records live under a user's collection in the record
// store and are never updated or deleted once appended.
//
// Fields:
//  ID          – store-assigned id (stringified auto-increment). Unique
//                within a user's collection and monotonically increasing,
//                which makes it usable as a deterministic sort tie-break.
//  OriginalURL – URL of the uploaded image as stored by the service.
//  EnhancedURL – URL of the enhanced image.
//  ResultURL   – URL of the prediction overlay.
//  UID         – owning user. Never reassigned.
//  Timestamp   – client-side submission time, serialized as RFC 3339.
type PredictionRecord struct {
	ID          string    `json:"id"`           // predictions.id
	OriginalURL string    `json:"original_url"` // predictions.original_url
	EnhancedURL string    `json:"enhanced_url"` // predictions.enhanced_url
	ResultURL   string    `json:"result_url"`   // predictions.result_url
	UID         string    `json:"-"`            // predictions.uid
	Timestamp   time.Time `json:"timestamp"`    // predictions.created_at
}
