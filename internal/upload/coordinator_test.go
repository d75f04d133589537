package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/aquasight/deepsee/internal/inference"
	"github.com/aquasight/deepsee/internal/model"
	"github.com/aquasight/deepsee/internal/session"
)

// fakeTokens counts fetches and hands out a distinct token per call.
type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTokens) Token() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return &oauth2.Token{AccessToken: fmt.Sprintf("token-%d", f.calls)}, nil
}

// fakeSessions returns a fixed session for every uid.
type fakeSessions struct {
	sess *session.Session
}

func (f *fakeSessions) Current(string) *session.Session { return f.sess }

// fakePredictor records calls and can be made to block until released.
type fakePredictor struct {
	mu      sync.Mutex
	calls   int
	tokens  []string
	result  inference.Result
	err     error
	started chan struct{} // non-nil: closed once a call is in flight
	release chan struct{} // non-nil: call blocks until closed
}

func (f *fakePredictor) Predict(_ context.Context, _ string, _ []byte, idToken string) (inference.Result, error) {
	f.mu.Lock()
	f.calls++
	f.tokens = append(f.tokens, idToken)
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		close(started)
		f.mu.Lock()
		f.started = nil
		f.mu.Unlock()
	}
	if release != nil {
		<-release
	}
	return f.result, f.err
}

func (f *fakePredictor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAppender records appended predictions.
type fakeAppender struct {
	mu      sync.Mutex
	appends []model.PredictionRecord
	err     error
}

func (f *fakeAppender) AppendPrediction(_ context.Context, rec model.PredictionRecord) (model.PredictionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.PredictionRecord{}, f.err
	}
	rec.ID = fmt.Sprintf("%d", len(f.appends)+1)
	f.appends = append(f.appends, rec)
	return rec, nil
}

func (f *fakeAppender) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

func authedSessions() (*fakeSessions, *fakeTokens) {
	tokens := &fakeTokens{}
	return &fakeSessions{sess: &session.Session{UID: "u1", Email: "u1@example.com", Tokens: tokens}}, tokens
}

func newTestCoordinator(sessions Sessions, infer Predictor, records Appender) *Coordinator {
	return NewCoordinator("u1", sessions, infer, records, nil)
}

func TestSelectFile(t *testing.T) {
	sessions, _ := authedSessions()

	t.Run("empty file is rejected with no state change", func(t *testing.T) {
		co := newTestCoordinator(sessions, &fakePredictor{}, &fakeAppender{})
		err := co.SelectFile("empty.jpg", nil)
		require.ErrorIs(t, err, ErrEmptyFile)
		assert.Equal(t, PhaseIdle, co.State().Phase)
	})

	t.Run("valid file arms the machine", func(t *testing.T) {
		co := newTestCoordinator(sessions, &fakePredictor{}, &fakeAppender{})
		require.NoError(t, co.SelectFile("photo.jpg", []byte("img")))
		st := co.State()
		assert.Equal(t, PhaseSelected, st.Phase)
		assert.Equal(t, "photo.jpg", st.FileName)
	})

	t.Run("re-selecting clears prior result and error", func(t *testing.T) {
		infer := &fakePredictor{err: &inference.ServerError{Status: 500, Message: "boom"}}
		co := newTestCoordinator(sessions, infer, &fakeAppender{})
		require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
		_, err := co.Submit(context.Background())
		require.Error(t, err)
		require.Equal(t, PhaseFailed, co.State().Phase)

		require.NoError(t, co.SelectFile("b.jpg", []byte("img2")))
		st := co.State()
		assert.Equal(t, PhaseSelected, st.Phase)
		assert.Empty(t, st.ErrorMessage)
		assert.Nil(t, st.Result)
	})
}

func TestSubmitGuards(t *testing.T) {
	t.Run("submit without a selection never calls the network", func(t *testing.T) {
		sessions, _ := authedSessions()
		infer := &fakePredictor{}
		co := newTestCoordinator(sessions, infer, &fakeAppender{})

		_, err := co.Submit(context.Background())
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Zero(t, infer.callCount())
	})

	t.Run("submit from terminal phases is rejected until re-armed", func(t *testing.T) {
		sessions, _ := authedSessions()
		infer := &fakePredictor{result: inference.Result{OriginalURL: "o", EnhancedURL: "e", ResultURL: "r"}}
		co := newTestCoordinator(sessions, infer, &fakeAppender{})
		require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
		_, err := co.Submit(context.Background())
		require.NoError(t, err)
		require.Equal(t, PhaseSucceeded, co.State().Phase)

		_, err = co.Submit(context.Background())
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, 1, infer.callCount())
	})

	t.Run("anonymous session fails fast with zero collaborator calls", func(t *testing.T) {
		infer := &fakePredictor{}
		records := &fakeAppender{}
		co := newTestCoordinator(&fakeSessions{sess: nil}, infer, records)
		require.NoError(t, co.SelectFile("a.jpg", []byte("img")))

		st, err := co.Submit(context.Background())
		require.ErrorIs(t, err, session.ErrAuthRequired)
		assert.Equal(t, PhaseSelected, st.Phase)
		assert.NotEmpty(t, st.ErrorMessage)
		assert.Zero(t, infer.callCount())
		assert.Zero(t, records.appendCount())
	})
}

func TestSubmitSuccess(t *testing.T) {
	sessions, tokens := authedSessions()
	infer := &fakePredictor{result: inference.Result{OriginalURL: "o1", EnhancedURL: "e1", ResultURL: "r1"}}
	records := &fakeAppender{}
	co := newTestCoordinator(sessions, infer, records)

	require.NoError(t, co.SelectFile("photo.jpg", []byte("img")))
	before := time.Now().UTC()
	st, err := co.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseSucceeded, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, "o1", st.Result.OriginalURL)
	assert.Equal(t, "e1", st.Result.EnhancedURL)
	assert.Equal(t, "r1", st.Result.ResultURL)
	assert.Empty(t, st.ErrorMessage)
	assert.Empty(t, st.Warning)

	// Exactly one append, matching the parsed response.
	require.Equal(t, 1, records.appendCount())
	rec := records.appends[0]
	assert.Equal(t, "u1", rec.UID)
	assert.Equal(t, "o1", rec.OriginalURL)
	assert.Equal(t, "e1", rec.EnhancedURL)
	assert.Equal(t, "r1", rec.ResultURL)
	assert.False(t, rec.Timestamp.Before(before))

	// The submission used a freshly fetched token.
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, []string{"token-1"}, infer.tokens)
}

func TestSubmitFetchesFreshTokenEachTime(t *testing.T) {
	sessions, tokens := authedSessions()
	infer := &fakePredictor{result: inference.Result{OriginalURL: "o", EnhancedURL: "e", ResultURL: "r"}}
	co := newTestCoordinator(sessions, infer, &fakeAppender{})

	for i := 0; i < 2; i++ {
		require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
		_, err := co.Submit(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, tokens.calls)
	assert.Equal(t, []string{"token-1", "token-2"}, infer.tokens)
}

func TestSubmitServerError(t *testing.T) {
	sessions, _ := authedSessions()
	infer := &fakePredictor{err: &inference.ServerError{Status: 500, Message: "model unavailable"}}
	records := &fakeAppender{}
	co := newTestCoordinator(sessions, infer, records)

	require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
	st, err := co.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, "model unavailable", st.ErrorMessage)
	assert.Zero(t, records.appendCount())
}

func TestSubmitNetworkError(t *testing.T) {
	sessions, _ := authedSessions()
	infer := &fakePredictor{err: &inference.NetworkError{Err: errors.New("connection refused")}}
	records := &fakeAppender{}
	co := newTestCoordinator(sessions, infer, records)

	require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
	st, err := co.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.ErrorMessage, "unreachable")
	assert.Zero(t, records.appendCount())
}

func TestAtMostOneInFlight(t *testing.T) {
	sessions, _ := authedSessions()
	infer := &fakePredictor{
		result:  inference.Result{OriginalURL: "o", EnhancedURL: "e", ResultURL: "r"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := infer.started
	co := newTestCoordinator(sessions, infer, &fakeAppender{})
	require.NoError(t, co.SelectFile("a.jpg", []byte("img")))

	done := make(chan error, 1)
	go func() {
		_, err := co.Submit(context.Background())
		done <- err
	}()
	<-started
	assert.Equal(t, PhaseUploading, co.State().Phase)

	// A second submit while uploading is a harmless no-op.
	_, err := co.Submit(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)

	// Re-selecting mid-flight re-arms the phase but the in-flight gate
	// still refuses a second submission.
	require.NoError(t, co.SelectFile("b.jpg", []byte("img2")))
	_, err = co.Submit(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)

	close(infer.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, infer.callCount())
}

func TestPersistenceFailureKeepsSucceeded(t *testing.T) {
	sessions, _ := authedSessions()
	infer := &fakePredictor{result: inference.Result{OriginalURL: "o", EnhancedURL: "e", ResultURL: "r"}}
	records := &fakeAppender{err: errors.New("append failed")}
	co := newTestCoordinator(sessions, infer, records)

	require.NoError(t, co.SelectFile("a.jpg", []byte("img")))
	st, err := co.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseSucceeded, st.Phase)
	require.NotNil(t, st.Result)
	assert.NotEmpty(t, st.Warning)
	assert.Empty(t, st.ErrorMessage)
}

func TestRegistryReusesCoordinatorPerUser(t *testing.T) {
	sessions, _ := authedSessions()
	reg := NewRegistry(sessions, &fakePredictor{}, &fakeAppender{}, nil)

	a := reg.For("u1")
	b := reg.For("u1")
	c := reg.For("u2")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
