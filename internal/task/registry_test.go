package task

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"downloadcenter/internal/model"
)

func waitingTask(id int64) WaitingTask {
	return WaitingTask{TaskID: id, Request: model.Request{TaskID: id, Site: "author.today"}}
}

func TestWaitingKeepsArrivalOrder(t *testing.T) {
	w := NewWaiting()
	w.EnsureGroup("empty")
	assert.True(t, w.Exists("empty"))
	assert.Empty(t, w.Tasks("empty"))
	assert.Nil(t, w.Tasks("missing"))

	for _, id := range []int64{3, 1, 2} {
		require.True(t, w.Add("g", waitingTask(id)))
	}
	assert.False(t, w.Add("other", waitingTask(1)), "an id is queued at most once")

	var order []int64
	for _, task := range w.Tasks("g") {
		order = append(order, task.TaskID)
	}
	assert.Equal(t, []int64{3, 1, 2}, order)
	assert.Equal(t, 3, w.Len())

	assert.True(t, w.Remove("g", 1))
	assert.False(t, w.Remove("g", 1))
	assert.False(t, w.Remove("missing", 2))
	assert.False(t, w.Contains(1))
	assert.True(t, w.Contains(2))
	assert.Len(t, w.Tasks("g"), 2)
}

func TestWaitingSnapshotIsIndependent(t *testing.T) {
	w := NewWaiting()
	w.Add("g", waitingTask(1))
	snapshot := w.Tasks("g")
	w.Remove("g", 1)
	w.Add("g", waitingTask(2))
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(1), snapshot[0].TaskID)
}

func TestRunningCancelAndRemove(t *testing.T) {
	r := NewRunning()
	flag := new(atomic.Bool)
	r.Set(RunningTask{TaskID: 7, Site: "author.today", Group: "g", Cancelled: flag})

	process := &fakeProcess{done: make(chan struct{})}
	r.Attach(7, process)

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Equal(t, "g", got.Group)

	assert.False(t, r.Cancel(8))
	assert.True(t, r.Cancel(7))
	assert.True(t, r.Cancel(7))
	assert.True(t, flag.Load())

	removed, ok := r.Remove(7)
	require.True(t, ok)
	assert.Equal(t, "author.today", removed.Site)
	assert.True(t, process.killed.Load(), "remove stops a live worker")
	assert.False(t, r.Exists(7))
	assert.Zero(t, r.Len())

	_, ok = r.Remove(7)
	assert.False(t, ok)
}

func TestRunningAttachAfterRemoveKills(t *testing.T) {
	r := NewRunning()
	r.Set(RunningTask{TaskID: 1, Cancelled: new(atomic.Bool)})
	r.Remove(1)

	process := &fakeProcess{done: make(chan struct{})}
	r.Attach(1, process)
	assert.True(t, process.killed.Load())
	assert.False(t, r.Exists(1))
}
