package core

import (
	"sync"
	"sync/atomic"
)

// TaskID identifies one scheduled phase task.
// IDs are unique across all phases of a registry and increase monotonically.
type TaskID uint64

// InvalidTaskID is returned when a task could not be scheduled.
const InvalidTaskID TaskID = 0

// IsValid reports whether id refers to a scheduled task.
func (id TaskID) IsValid() bool { return id != InvalidTaskID }

// TaskRegistry tracks which scheduled task IDs have not finished executing.
// An ID is pending from Register until Done, covering both the queued and the
// running state.
type TaskRegistry struct {
	next atomic.Uint64

	mu      sync.Mutex
	pending map[TaskID]struct{}
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{pending: make(map[TaskID]struct{})}
}

// Register allocates a new ID and marks it pending.
func (r *TaskRegistry) Register() TaskID {
	id := TaskID(r.next.Add(1))

	r.mu.Lock()
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	return id
}

// Done removes id from the pending set. Unknown IDs are ignored.
func (r *TaskRegistry) Done(id TaskID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// IsPending reports whether id was registered and has not finished.
func (r *TaskRegistry) IsPending(id TaskID) bool {
	if !id.IsValid() {
		return false
	}
	r.mu.Lock()
	_, ok := r.pending[id]
	r.mu.Unlock()
	return ok
}

// Len returns the number of pending IDs.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
