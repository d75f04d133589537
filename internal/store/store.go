// Package store adapts the record store for the rest of the application.
// It exposes exactly the operations the workflow consumes: point get/set
// on user profiles, an append to a user's prediction collection, a full
// read of that collection, and a change subscription.  Durability lives in
// MySQL; change notifications travel over the broker and come back in
// through the dispatcher, so every running instance observes appends made
// by any of them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aquasight/deepsee/internal/model"
	"github.com/aquasight/deepsee/internal/queue"
	queue_publisher "github.com/aquasight/deepsee/internal/service"
)

// ErrNotFound is returned by point reads when no record exists at the key.
var ErrNotFound = errors.New("record not found")

// Store is the record store adapter.  Events may be nil in tests; publish
// defaults to the broker publisher and exists as a seam for tests.
type Store struct {
	DB      *sql.DB
	Events  *queue.Dispatcher
	publish func(ctx context.Context, ev queue.PredictionAppendedEvent) error
}

func New(db *sql.DB, events *queue.Dispatcher) *Store {
	return &Store{DB: db, Events: events, publish: queue_publisher.PublishPredictionAppended}
}

// GetProfile performs a point read of users/{uid}.
func (s *Store) GetProfile(ctx context.Context, uid string) (model.UserProfile, error) {
	var p model.UserProfile
	err := s.DB.QueryRowContext(ctx,
		"SELECT uid,email,display_name,photo_url,created_at,last_login FROM user_profiles WHERE uid=? LIMIT 1",
		uid).Scan(&p.UID, &p.Email, &p.DisplayName, &p.PhotoURL, &p.CreatedAt, &p.LastLogin)
	if err == sql.ErrNoRows {
		return model.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return model.UserProfile{}, err
	}
	return p, nil
}

// CreateProfile writes a brand-new profile at users/{uid}.  UID, Email and
// CreatedAt are immutable after this write.
func (s *Store) CreateProfile(ctx context.Context, p model.UserProfile) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO user_profiles (uid,email,display_name,photo_url,created_at,last_login) VALUES (?,?,?,?,?,?)",
		p.UID, p.Email, p.DisplayName, p.PhotoURL, p.CreatedAt.UTC(), p.LastLogin.UTC())
	return err
}

// TouchLastLogin updates only the advisory last_login field.  Concurrent
// sign-ins from several devices are last-writer-wins, which is fine
// because nothing authorizes against this value.
func (s *Store) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		"UPDATE user_profiles SET last_login=? WHERE uid=?", at.UTC(), uid)
	return err
}

// AppendPrediction appends one record to users/{uid}/predictions and
// returns it with the store-assigned id filled in.  After a successful
// insert a change event is published; publish failures are logged and
// swallowed because the record itself is already durable and subscribers
// re-read the full collection on the next notification anyway.
func (s *Store) AppendPrediction(ctx context.Context, rec model.PredictionRecord) (model.PredictionRecord, error) {
	res, err := s.DB.ExecContext(ctx,
		"INSERT INTO predictions (uid,original_url,enhanced_url,result_url,created_at) VALUES (?,?,?,?,?)",
		rec.UID, rec.OriginalURL, rec.EnhancedURL, rec.ResultURL, rec.Timestamp.UTC())
	if err != nil {
		return model.PredictionRecord{}, fmt.Errorf("append prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.PredictionRecord{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)

	ev := queue.PredictionAppendedEvent{
		EventID:    uuid.NewString(),
		UID:        rec.UID,
		RecordID:   rec.ID,
		AppendedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.publish(ctx, ev); err != nil {
		log.Printf("store: change notification for uid=%s dropped: %v", rec.UID, err)
	}
	return rec, nil
}

// ListPredictions reads the full users/{uid}/predictions collection in
// store-native order (ascending id).  Sorting into the history view is the
// subscriber's job.
func (s *Store) ListPredictions(ctx context.Context, uid string) ([]model.PredictionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id,uid,original_url,enhanced_url,result_url,created_at FROM predictions WHERE uid=? ORDER BY id ASC",
		uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PredictionRecord
	for rows.Next() {
		var rec model.PredictionRecord
		var id int64
		if err := rows.Scan(&id, &rec.UID, &rec.OriginalURL, &rec.EnhancedURL, &rec.ResultURL, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.ID = strconv.FormatInt(id, 10)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Subscribe registers fn to run on every change to the user's collection.
// The returned cancel function releases the registration.
func (s *Store) Subscribe(uid string, fn func()) (cancel func()) {
	return s.Events.Subscribe(uid, fn)
}
