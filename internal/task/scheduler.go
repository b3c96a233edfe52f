package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"downloadcenter/internal/downloader"
)

func (m *Manager) runScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.schedule()
		}
	}
}

// schedule makes one pass over all groups in name order.
func (m *Manager) schedule() {
	for _, group := range m.routing.Groups.Names() {
		m.scheduleGroup(group)
	}
}

// scheduleGroup starts as many waiting tasks of group as the limits allow.
// A failure here does not affect other groups.
func (m *Manager) scheduleGroup(group string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("group", group).Interface("panic", r).Msg("scheduling failed")
		}
	}()

	if !m.routing.Groups.CanStart(group) {
		return
	}
	for _, waiting := range m.waiting.Tasks(group) {
		if !m.routing.Groups.CanStart(group) {
			return
		}
		if !m.routing.Sites.CanStart(waiting.Request.Site) {
			continue
		}
		m.startTask(group, waiting)
	}
}

func (m *Manager) startTask(group string, waiting WaitingTask) {
	req := waiting.Request
	if !m.waiting.Remove(group, waiting.TaskID) {
		return
	}
	m.routing.AddRun(group, req.Site)

	site, _ := m.routing.Sites.Get(req.Site)
	cancelled := new(atomic.Bool)
	m.running.Set(RunningTask{
		TaskID:    waiting.TaskID,
		UserID:    req.UserID,
		Site:      req.Site,
		Group:     group,
		Cancelled: cancelled,
	})

	m.mu.RLock()
	start := m.startWorker
	baseCtx := m.baseCtx
	m.mu.RUnlock()

	m.workersWG.Add(1)
	process := start(baseCtx, downloader.Params{
		Request:    req,
		Executable: m.executable(site.Downloader),
		Cancelled:  cancelled,
		Statuses:   m.statuses,
		Results:    m.results,
	})
	go func() {
		defer m.workersWG.Done()
		<-process.Done()
	}()
	m.running.Attach(waiting.TaskID, process)

	log.Info().Int64("task_id", waiting.TaskID).Str("site", req.Site).Str("group", group).Msg("task started")
}
