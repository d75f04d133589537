package queue

import "sync"

// Dispatcher fans record-change signals out to in-process subscribers
// keyed by user id.  The broker consumer calls Dispatch for every event it
// receives; history subscriptions register through Subscribe.  Callbacks
// run on the dispatching goroutine and must not block.
type Dispatcher struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]func()
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string]map[uint64]func())}
}

// Subscribe registers fn to run whenever the given user's collection
// changes.  The returned cancel function removes the registration; calling
// it more than once is harmless.
func (d *Dispatcher) Subscribe(uid string, fn func()) (cancel func()) {
	d.mu.Lock()
	id := d.next
	d.next++
	if d.subs[uid] == nil {
		d.subs[uid] = make(map[uint64]func())
	}
	d.subs[uid][id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		if m := d.subs[uid]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(d.subs, uid)
			}
		}
		d.mu.Unlock()
	}
}

// Dispatch invokes every subscriber registered for uid.
func (d *Dispatcher) Dispatch(uid string) {
	d.mu.RLock()
	fns := make([]func(), 0, len(d.subs[uid]))
	for _, fn := range d.subs[uid] {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
