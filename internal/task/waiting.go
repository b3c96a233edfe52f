package task

import "sync"

// Waiting holds admitted tasks per group in arrival order.
type Waiting struct {
	mu     sync.RWMutex
	groups map[string]*waitingGroup
}

type waitingGroup struct {
	order []int64
	tasks map[int64]WaitingTask
}

func NewWaiting() *Waiting {
	return &Waiting{groups: make(map[string]*waitingGroup)}
}

// EnsureGroup creates an empty list for group if it has none.
func (w *Waiting) EnsureGroup(group string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.groupLocked(group)
}

func (w *Waiting) groupLocked(group string) *waitingGroup {
	g, ok := w.groups[group]
	if !ok {
		g = &waitingGroup{tasks: make(map[int64]WaitingTask)}
		w.groups[group] = g
	}
	return g
}

func (w *Waiting) Exists(group string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.groups[group]
	return ok
}

// Add queues t under group. It returns false when the id is already queued.
func (w *Waiting) Add(group string, t WaitingTask) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.containsLocked(t.TaskID) {
		return false
	}
	g := w.groupLocked(group)
	g.order = append(g.order, t.TaskID)
	g.tasks[t.TaskID] = t
	return true
}

func (w *Waiting) Remove(group string, taskID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.groups[group]
	if !ok {
		return false
	}
	if _, ok := g.tasks[taskID]; !ok {
		return false
	}
	delete(g.tasks, taskID)
	for i, id := range g.order {
		if id == taskID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Tasks returns a snapshot of the group's queue in arrival order.
func (w *Waiting) Tasks(group string) []WaitingTask {
	w.mu.RLock()
	defer w.mu.RUnlock()
	g, ok := w.groups[group]
	if !ok {
		return nil
	}
	out := make([]WaitingTask, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Contains reports whether taskID is queued in any group.
func (w *Waiting) Contains(taskID int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.containsLocked(taskID)
}

func (w *Waiting) containsLocked(taskID int64) bool {
	for _, g := range w.groups {
		if _, ok := g.tasks[taskID]; ok {
			return true
		}
	}
	return false
}

func (w *Waiting) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, g := range w.groups {
		n += len(g.tasks)
	}
	return n
}
