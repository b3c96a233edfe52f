package task

import "sync"

// Running tracks tasks whose worker is in flight.
type Running struct {
	mu    sync.RWMutex
	tasks map[int64]*RunningTask
}

func NewRunning() *Running {
	return &Running{tasks: make(map[int64]*RunningTask)}
}

// Set registers a task before its worker starts.
func (r *Running) Set(t RunningTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := t
	r.tasks[t.TaskID] = &stored
}

// Attach records the worker handle. If the task was already removed the
// handle is killed.
func (r *Running) Attach(taskID int64, p Process) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if ok {
		t.process = p
	}
	r.mu.Unlock()
	if !ok && p != nil && p.Alive() {
		p.Kill()
	}
}

func (r *Running) Get(taskID int64) (RunningTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return RunningTask{}, false
	}
	return *t, true
}

func (r *Running) Exists(taskID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[taskID]
	return ok
}

// Remove releases the entry and kills the worker if it is still alive.
func (r *Running) Remove(taskID int64) (RunningTask, bool) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	delete(r.tasks, taskID)
	r.mu.Unlock()
	if !ok {
		return RunningTask{}, false
	}
	if t.process != nil && t.process.Alive() {
		t.process.Kill()
	}
	return *t, true
}

// Cancel raises the cancellation flag of a running task.
func (r *Running) Cancel(taskID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	if !ok || t.Cancelled == nil {
		return false
	}
	t.Cancelled.Store(true)
	return true
}

func (r *Running) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
