// Package queue defines message payloads exchanged over the message broker
// and the in-process dispatcher that turns broker deliveries into history
// subscription notifications.
package queue

// PredictionAppendedEvent is published after a prediction record is
// appended to a user's collection.  Consumers treat it purely as a change
// signal: the history view is always re-read in full from the store, never
// patched from the event, so the payload only needs to identify the user
// and the record for logging.
type PredictionAppendedEvent struct {
	EventID    string `json:"event_id"`
	UID        string `json:"uid"`
	RecordID   string `json:"record_id"`
	AppendedAt string `json:"appended_at"`
}
