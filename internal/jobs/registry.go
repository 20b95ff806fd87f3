// Package jobs tracks the cancellation handle for each in-flight
// download/injection, so pause, resume, delete, and the janitor can all
// cancel the same worker goroutine without sharing any other state
// (spec.md §5 "Cancellation"; SPEC_FULL.md §5).
package jobs

import "sync"

type entry struct {
	gen    uint64
	cancel func()
}

// Registry is a process-local map from task ID to the cancel function
// for that task's active background worker. Grounded on the teacher's
// worker-pool cancellation-handle idea (pkg/common/workers.Pool), but
// narrowed to a single cancel func per key instead of a pool of workers.
type Registry struct {
	mu      sync.Mutex
	nextGen uint64
	entries map[string]entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register stores the cancel func for taskID, invoking any previous one
// registered for the same ID first (a resume after pause replaces the
// stale handle rather than stacking it). The returned release func
// removes this registration, but only if nothing newer has replaced it
// since — resume racing a slow release must not clobber the new worker.
func (r *Registry) Register(taskID string, cancel func()) (release func()) {
	r.mu.Lock()
	if old, ok := r.entries[taskID]; ok {
		old.cancel()
	}
	r.nextGen++
	gen := r.nextGen
	r.entries[taskID] = entry{gen: gen, cancel: cancel}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if cur, ok := r.entries[taskID]; ok && cur.gen == gen {
			delete(r.entries, taskID)
		}
		r.mu.Unlock()
	}
}

// Cancel invokes and removes the cancel func for taskID, if any is
// registered. Returns false if no worker was running for taskID.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	delete(r.entries, taskID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	return true
}
