package upload

import (
	"sync"

	"github.com/aquasight/deepsee/internal/metrics"
)

// Registry hands out one Coordinator per user, so the at-most-one-in-flight
// gate holds across every tab and device a user submits from.
// Coordinators are kept for the life of the process; upload state is
// in-memory only and a restart simply starts everyone back at Idle.
type Registry struct {
	sessions Sessions
	infer    Predictor
	records  Appender
	metrics  metrics.Recorder

	mu     sync.Mutex
	coords map[string]*Coordinator
}

func NewRegistry(sessions Sessions, infer Predictor, records Appender, rec metrics.Recorder) *Registry {
	return &Registry{
		sessions: sessions,
		infer:    infer,
		records:  records,
		metrics:  rec,
		coords:   make(map[string]*Coordinator),
	}
}

// For returns the coordinator for uid, creating it on first use.
func (r *Registry) For(uid string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	co, ok := r.coords[uid]
	if !ok {
		co = NewCoordinator(uid, r.sessions, r.infer, r.records, r.metrics)
		r.coords[uid] = co
	}
	return co
}
