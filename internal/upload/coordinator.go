// Package upload orchestrates one user's submission workflow: select a
// file, submit it to the inference service with a fresh identity token,
// and persist the result to the user's history.  A Coordinator is a small
// state machine; all the real work happens in collaborators it holds
// behind interfaces.
package upload

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aquasight/deepsee/internal/inference"
	"github.com/aquasight/deepsee/internal/metrics"
	"github.com/aquasight/deepsee/internal/model"
	"github.com/aquasight/deepsee/internal/session"
)

// Phase is the coordinator's position in the submission state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelected  Phase = "selected"
	PhaseUploading Phase = "uploading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// ErrEmptyFile rejects a selection with no bytes before anything else runs.
var ErrEmptyFile = errors.New("please select an image file first")

// ErrInvalidState rejects Submit outside the Selected phase.  It is a
// deliberate no-op guard: a double submission while one is uploading gets
// this error and nothing more.
var ErrInvalidState = errors.New("no file is ready to submit")

// State is the externally visible upload state.  It is never persisted;
// every accessor gets an independent copy.
type State struct {
	Phase        Phase             `json:"phase"`
	FileName     string            `json:"file_name,omitempty"`
	Result       *inference.Result `json:"result,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
	Warning      string            `json:"warning,omitempty"`
}

// Predictor is the inference service call.
type Predictor interface {
	Predict(ctx context.Context, filename string, file []byte, idToken string) (inference.Result, error)
}

// Appender is the slice of the record store the coordinator needs.
type Appender interface {
	AppendPrediction(ctx context.Context, rec model.PredictionRecord) (model.PredictionRecord, error)
}

// Sessions resolves the current session for a uid.  *session.Gate
// satisfies it; tests substitute fakes.
type Sessions interface {
	Current(uid string) *session.Session
}

// Coordinator runs submissions for one user.  At most one submission is in
// flight at any time; the inFlight flag is the gate and survives the phase
// being re-armed by a new selection while an upload is still running.
type Coordinator struct {
	uid      string
	sessions Sessions
	infer    Predictor
	records  Appender
	metrics  metrics.Recorder

	mu       sync.Mutex
	state    State
	selected []byte
	inFlight bool
}

func NewCoordinator(uid string, sessions Sessions, infer Predictor, records Appender, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Coordinator{
		uid:      uid,
		sessions: sessions,
		infer:    infer,
		records:  records,
		metrics:  rec,
		state:    State{Phase: PhaseIdle},
	}
}

// State returns a copy of the current upload state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	st := c.state
	if st.Result != nil {
		r := *st.Result
		st.Result = &r
	}
	return st
}

// SelectFile arms the machine with a new file.  Any prior selection,
// result or error is discarded with no side effect on the store.  An empty
// file is rejected outright and changes nothing.
func (c *Coordinator) SelectFile(name string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFile
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = data
	c.state = State{Phase: PhaseSelected, FileName: name}
	return nil
}

// Submit runs one submission: precondition checks, fresh token fetch,
// inference call, and on success exactly one history append.  It returns
// the resulting state alongside the error so callers can render both.
//
// Failure placement follows the machine: precondition failures leave the
// phase where it was (Selected keeps its selection and gains an error
// message), while failures past the Uploading transition land in Failed.
// A failed post-success append does NOT revert Succeeded - the user has
// already seen the result - it only sets a warning.
func (c *Coordinator) Submit(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state.Phase != PhaseSelected || c.inFlight {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrInvalidState
	}
	sess := c.sessions.Current(c.uid)
	if !sess.Authenticated() {
		c.state.ErrorMessage = session.ErrAuthRequired.Error()
		st := c.snapshotLocked()
		c.mu.Unlock()
		c.metrics.RecordPredictionFailure("auth")
		return st, session.ErrAuthRequired
	}
	c.inFlight = true
	c.state.Phase = PhaseUploading
	c.state.Result = nil
	c.state.ErrorMessage = ""
	c.state.Warning = ""
	name := c.state.FileName
	data := c.selected
	c.mu.Unlock()

	// Tokens expire; fetch a fresh one for every submission.
	tok, err := sess.Tokens.Token()
	if err != nil {
		return c.fail("auth", err.Error()), err
	}

	start := time.Now()
	res, err := c.infer.Predict(ctx, name, data, tok.AccessToken)
	c.metrics.RecordInferenceLatency(time.Since(start))
	if err != nil {
		return c.fail(failureReason(err), err.Error()), err
	}

	c.mu.Lock()
	c.inFlight = false
	c.state.Phase = PhaseSucceeded
	r := res
	c.state.Result = &r
	c.mu.Unlock()
	c.metrics.RecordPredictionSuccess()

	// Exactly one append per success.  If it fails the result stays on
	// screen and history silently misses this entry; that divergence is
	// accepted because the artifacts cannot be replayed later.
	rec := model.PredictionRecord{
		UID:         c.uid,
		OriginalURL: res.OriginalURL,
		EnhancedURL: res.EnhancedURL,
		ResultURL:   res.ResultURL,
		Timestamp:   time.Now().UTC(),
	}
	if _, err := c.records.AppendPrediction(ctx, rec); err != nil {
		log.Printf("upload: history append for uid=%s failed: %v", c.uid, err)
		c.metrics.RecordPersistenceFailure()
		c.mu.Lock()
		c.state.Warning = "your result could not be saved to history"
		c.mu.Unlock()
	}
	return c.State(), nil
}

// fail records a terminal failure for the in-flight submission.
func (c *Coordinator) fail(reason, message string) State {
	c.metrics.RecordPredictionFailure(reason)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.state.Phase = PhaseFailed
	c.state.ErrorMessage = message
	return c.snapshotLocked()
}

func failureReason(err error) string {
	var ne *inference.NetworkError
	if errors.As(err, &ne) {
		return "network"
	}
	return "server"
}
