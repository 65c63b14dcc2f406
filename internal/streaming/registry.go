package streaming

import (
	"log/slog"
	"sort"
	"sync"
)

// Sink is a downstream connection handle. Implementations are used as map
// keys, so they must be comparable (pointer receivers in practice). Send must
// not block on the network.
type Sink interface {
	Send(payload []byte) error
}

// Registry is the fan-out directory shared by the upstream connector and the
// downstream gateway: one set of sinks receiving everything and one set per
// reference id.
type Registry struct {
	mu     sync.RWMutex
	all    map[Sink]struct{}
	byRef  map[string]map[Sink]struct{}
	logger *slog.Logger
}

// constructor for Registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		all:    make(map[Sink]struct{}),
		byRef:  make(map[string]map[Sink]struct{}),
		logger: logger,
	}
}

func (r *Registry) AddAll(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[s] = struct{}{}
}

func (r *Registry) RemoveAll(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, s)
}

func (r *Registry) AddRef(ref string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byRef[ref]
	if !ok {
		set = make(map[Sink]struct{})
		r.byRef[ref] = set
	}
	set[s] = struct{}{}
}

func (r *Registry) RemoveRef(ref string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeRefLocked(ref, s)
}

// Remove drops s from the all-set and from every reference set.
func (r *Registry) Remove(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, s)
	for ref := range r.byRef {
		r.removeRefLocked(ref, s)
	}
}

// must hold r.mu
func (r *Registry) removeRefLocked(ref string, s Sink) {
	set, ok := r.byRef[ref]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.byRef, ref)
	}
}

// PushAll sends payload to every sink in the all-set and returns how many
// sends succeeded. Sinks that fail are removed.
func (r *Registry) PushAll(payload []byte) int {
	r.mu.RLock()
	targets := snapshot(r.all)
	r.mu.RUnlock()

	delivered, dead := r.send(targets, payload)
	if len(dead) > 0 {
		r.mu.Lock()
		for _, s := range dead {
			delete(r.all, s)
		}
		r.mu.Unlock()
	}
	return delivered
}

// PushRef is PushAll scoped to one reference id. An unknown id is a no-op.
func (r *Registry) PushRef(ref string, payload []byte) int {
	r.mu.RLock()
	targets := snapshot(r.byRef[ref])
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	delivered, dead := r.send(targets, payload)
	if len(dead) > 0 {
		r.mu.Lock()
		for _, s := range dead {
			r.removeRefLocked(ref, s)
		}
		r.mu.Unlock()
	}
	return delivered
}

func (r *Registry) send(targets []Sink, payload []byte) (int, []Sink) {
	delivered := 0
	var dead []Sink
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			r.logger.Debug("sink_send_failed", "error", err.Error())
			dead = append(dead, s)
			continue
		}
		delivered++
	}
	return delivered, dead
}

// AllCount returns the size of the all-set.
func (r *Registry) AllCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// RefCount returns the number of sinks registered for ref.
func (r *Registry) RefCount(ref string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRef[ref])
}

// References lists the reference ids with at least one sink, sorted.
func (r *Registry) References() []string {
	r.mu.RLock()
	refs := make([]string, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()
	sort.Strings(refs)
	return refs
}

func snapshot(set map[Sink]struct{}) []Sink {
	out := make([]Sink, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
