// Package history maintains live, ordered views of a user's prediction
// collection.  The backing store signals changes but never deltas, so each
// notification re-derives the whole view from a full read; consumers get a
// fresh slice every time and never see one mutate.
package history

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/aquasight/deepsee/internal/model"
)

// View is one emission: the user's records, newest first.
type View []model.PredictionRecord

// Records is the slice of the record store the streamer needs.
type Records interface {
	ListPredictions(ctx context.Context, uid string) ([]model.PredictionRecord, error)
	Subscribe(uid string, fn func()) (cancel func())
}

// Subscription is the cancellation handle returned by Subscribe.  The
// owner of the consuming lifecycle must call Unsubscribe exactly once when
// done; a forgotten handle leaks a live store registration for the life of
// the process.  After Unsubscribe returns, the callback will not run
// again.  The callback must not call Unsubscribe on its own handle.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	stop   func()
}

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}

// emit runs fn unless the subscription has been cancelled.  Holding the
// mutex across fn is what makes "no callback after Unsubscribe" airtight.
func (s *Subscription) emit(fn func(View), v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fn(v)
}

// Streamer builds subscriptions over the record store.
type Streamer struct {
	records Records
}

func NewStreamer(records Records) *Streamer {
	return &Streamer{records: records}
}

// Subscribe delivers the current sorted view immediately, then again on
// every change to the user's collection, until the handle is released or
// ctx is cancelled.  An empty uid is the anonymous case: one empty view,
// no store calls, and a handle that is safe to release anyway.
func (st *Streamer) Subscribe(ctx context.Context, uid string, fn func(View)) *Subscription {
	sub := &Subscription{}
	if uid == "" {
		fn(View{})
		return sub
	}

	deliver := func() {
		recs, err := st.records.ListPredictions(ctx, uid)
		if err != nil {
			// Keep the previous view; the next change signal retries.
			log.Printf("history: snapshot read for uid=%s failed: %v", uid, err)
			return
		}
		sub.emit(fn, sortView(recs))
	}

	// Coalescing buffer: a burst of change signals collapses into one
	// pending refresh, which is fine because every refresh is a full read.
	notify := make(chan struct{}, 1)
	cancelStore := st.records.Subscribe(uid, func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	done := make(chan struct{})
	sub.stop = func() {
		cancelStore()
		close(done)
	}

	deliver() // initial snapshot, or an empty view if none exists

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-notify:
				deliver()
			}
		}
	}()
	return sub
}

// Sorted builds a one-off view from records in store-native order.  The
// snapshot endpoint uses it so a plain GET and the live stream apply the
// same sort policy.
func Sorted(recs []model.PredictionRecord) View {
	return sortView(recs)
}

// sortView orders records strictly descending by timestamp.  The sort is
// stable over the store-native id order, so equal timestamps keep their
// store-assigned ordering and the result is deterministic even without
// sub-second timestamp precision.
func sortView(recs []model.PredictionRecord) View {
	v := make(View, len(recs))
	copy(v, recs)
	sort.SliceStable(v, func(i, j int) bool {
		return v[i].Timestamp.After(v[j].Timestamp)
	})
	return v
}
