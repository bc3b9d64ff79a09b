// Package export submits server-side export jobs and tracks them from
// submission to a terminal state.
package export

import (
	"fmt"
	"sync"
	"time"

	"github.com/rasterline/imagery-retriever/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventJobAdded EventType = iota
	EventJobStateChanged
)

// Event is emitted to subscribers when a tracked job changes. Prev is
// the state before the change; for EventJobAdded it is the zero value.
type Event struct {
	Type EventType
	Prev model.ExportState
	Job  model.ExportJob
}

// subscriber pairs a callback with a stable id so unsubscribing one
// never detaches another.
type subscriber struct {
	id int
	fn func(Event)
}

// JobStore is an in-memory, thread-safe record of export jobs. Jobs are
// listed in submission order.
type JobStore struct {
	mu sync.RWMutex

	jobs  map[string]*model.ExportJob
	order []string

	subs    []subscriber
	nextSub int
}

// NewJobStore constructs an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.ExportJob)}
}

// Add starts tracking a job. It returns an error if the handle is
// already tracked.
func (s *JobStore) Add(job model.ExportJob) error {
	s.mu.Lock()
	if _, exists := s.jobs[job.Handle]; exists {
		s.mu.Unlock()
		return fmt.Errorf("export job with handle %q already exists", job.Handle)
	}
	stored := job
	s.jobs[job.Handle] = &stored
	s.order = append(s.order, job.Handle)
	event := Event{Type: EventJobAdded, Job: job}
	subs := append([]subscriber{}, s.subs...)
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub.fn(event)
	}
	return nil
}

// Get returns a copy of the job with the given handle.
func (s *JobStore) Get(handle string) (model.ExportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[handle]
	if !ok {
		return model.ExportJob{}, false
	}
	return *job, true
}

// List returns a snapshot of all jobs in submission order.
func (s *JobStore) List() []model.ExportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.ExportJob, 0, len(s.order))
	for _, handle := range s.order {
		res = append(res, *s.jobs[handle])
	}
	return res
}

// Pending returns the jobs not yet in a terminal state, in submission
// order.
func (s *JobStore) Pending() []model.ExportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.ExportJob
	for _, handle := range s.order {
		if job := s.jobs[handle]; !job.State.Terminal() {
			res = append(res, *job)
		}
	}
	return res
}

// Counts returns the number of tracked jobs per state.
func (s *JobStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, job := range s.jobs {
		counts[string(job.State)]++
	}
	return counts
}

// SetState records an observed state transition and notifies
// subscribers.
func (s *JobStore) SetState(handle string, state model.ExportState, message string, at time.Time) error {
	s.mu.Lock()
	job, ok := s.jobs[handle]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("export job with handle %q not found", handle)
	}
	prev := job.State
	job.State = state
	job.Message = message
	job.UpdatedAt = at
	event := Event{
		Type: EventJobStateChanged,
		Prev: prev,
		Job:  *job, // copy for safety
	}
	subs := append([]subscriber{}, s.subs...)
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub.fn(event)
	}
	return nil
}

// Subscribe registers a callback for store events. It returns an
// idempotent unsubscribe function.
func (s *JobStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}
