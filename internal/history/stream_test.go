package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasight/deepsee/internal/model"
)

// fakeRecords is an in-memory store with a manual change signal.
type fakeRecords struct {
	mu      sync.Mutex
	recs    []model.PredictionRecord
	listErr error
	lists   int
	subs    map[int]func()
	nextSub int
}

func newFakeRecords(recs ...model.PredictionRecord) *fakeRecords {
	return &fakeRecords{recs: recs, subs: make(map[int]func())}
}

func (f *fakeRecords) ListPredictions(_ context.Context, _ string) ([]model.PredictionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.PredictionRecord, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

func (f *fakeRecords) Subscribe(_ string, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeRecords) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeRecords) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// signal fires every registered change callback, like a queue delivery.
func (f *fakeRecords) signal() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeRecords) append(rec model.PredictionRecord) {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	f.signal()
}

func rec(id string, ts time.Time) model.PredictionRecord {
	return model.PredictionRecord{ID: id, UID: "u1", Timestamp: ts}
}

func awaitView(t *testing.T, ch <-chan View) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a view")
		return nil
	}
}

func ids(v View) []string {
	out := make([]string, len(v))
	for i, r := range v {
		out[i] = r.ID
	}
	return out
}

func TestSubscribeDeliversInitialSnapshotSorted(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Store-native order is ascending id; the view must be newest first.
	records := newFakeRecords(
		rec("1", base),
		rec("2", base.Add(time.Minute)),
		rec("3", base.Add(2*time.Minute)),
	)
	views := make(chan View, 4)
	sub := NewStreamer(records).Subscribe(context.Background(), "u1", func(v View) { views <- v })
	defer sub.Unsubscribe()

	assert.Equal(t, []string{"3", "2", "1"}, ids(awaitView(t, views)))
}

func TestSubscribeEqualTimestampsKeepStoreOrder(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := newFakeRecords(rec("1", ts), rec("2", ts), rec("3", ts.Add(time.Minute)))
	views := make(chan View, 4)
	sub := NewStreamer(records).Subscribe(context.Background(), "u1", func(v View) { views <- v })
	defer sub.Unsubscribe()

	// The tie between 1 and 2 resolves to their store-assigned order.
	assert.Equal(t, []string{"3", "1", "2"}, ids(awaitView(t, views)))
}

func TestSubscribeEmitsOnChange(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := newFakeRecords(rec("1", base))
	views := make(chan View, 4)
	sub := NewStreamer(records).Subscribe(context.Background(), "u1", func(v View) { views <- v })
	defer sub.Unsubscribe()

	require.Equal(t, []string{"1"}, ids(awaitView(t, views)))

	records.append(rec("2", base.Add(time.Minute)))
	assert.Equal(t, []string{"2", "1"}, ids(awaitView(t, views)))
}

func TestSubscribeAnonymous(t *testing.T) {
	records := newFakeRecords()
	var views []View
	sub := NewStreamer(records).Subscribe(context.Background(), "", func(v View) { views = append(views, v) })

	// One empty view, synchronously, and the store is never touched.
	require.Len(t, views, 1)
	assert.Empty(t, views[0])
	assert.Zero(t, records.listCount())
	assert.Zero(t, records.subCount())

	sub.Unsubscribe() // releasing the handle anyway is harmless
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := newFakeRecords(rec("1", base))
	views := make(chan View, 16)
	sub := NewStreamer(records).Subscribe(context.Background(), "u1", func(v View) { views <- v })
	awaitView(t, views)

	sub.Unsubscribe()
	assert.Zero(t, records.subCount(), "store registration released")

	records.append(rec("2", base.Add(time.Minute)))
	select {
	case <-views:
		t.Fatal("callback ran after Unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}

	sub.Unsubscribe() // second release is a no-op
}

func TestContextCancelStopsRefreshes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := newFakeRecords(rec("1", base))
	ctx, cancel := context.WithCancel(context.Background())
	views := make(chan View, 16)
	sub := NewStreamer(records).Subscribe(ctx, "u1", func(v View) { views <- v })
	defer sub.Unsubscribe()
	awaitView(t, views)
	before := records.listCount()

	cancel()
	// Give the refresh goroutine a moment to observe cancellation.
	time.Sleep(50 * time.Millisecond)
	records.signal()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, records.listCount())
}

func TestFailedRefreshKeepsPreviousView(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := newFakeRecords(rec("1", base))
	views := make(chan View, 16)
	sub := NewStreamer(records).Subscribe(context.Background(), "u1", func(v View) { views <- v })
	defer sub.Unsubscribe()
	awaitView(t, views)

	records.mu.Lock()
	records.listErr = errors.New("db gone")
	records.mu.Unlock()
	records.signal()

	select {
	case v := <-views:
		t.Fatalf("unexpected view after failed read: %v", ids(v))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSortedMatchesStreamPolicy(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []model.PredictionRecord{rec("1", base.Add(time.Minute)), rec("2", base), rec("3", base.Add(time.Minute))}
	assert.Equal(t, []string{"1", "3", "2"}, ids(Sorted(in)))
	// The input slice is never reordered in place.
	assert.Equal(t, "1", in[0].ID)
}
