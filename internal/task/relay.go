package task

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"downloadcenter/internal/callback"
	"downloadcenter/internal/model"
)

func (m *Manager) runRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-m.statuses:
			m.forwardStatus(ctx, status)
		case result := <-m.results:
			m.finish(ctx, result)
		}
	}
}

// forwardStatus posts a progress update of a running task, once, off the relay goroutine.
func (m *Manager) forwardStatus(ctx context.Context, status model.Status) {
	if !m.running.Exists(status.TaskID) {
		return
	}
	timeout := m.config().Callbacks.Timeout.Std()
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := m.notifier.SendStatus(sendCtx, status); err != nil && !errors.Is(err, callback.ErrRateLimited) {
			log.Debug().Err(err).Int64("task_id", status.TaskID).Msg("status callback failed")
		}
	}()
}

// finish releases the slot held by a terminal result and hands it to delivery.
func (m *Manager) finish(ctx context.Context, result model.Result) {
	running, wasRunning := m.running.Remove(result.TaskID)
	if wasRunning {
		m.routing.RemoveRun(running.Group, running.Site)
		m.saveLastRuns(ctx, running.Group, running.Site)
	}
	log.Info().Int64("task_id", result.TaskID).Stringer("step", result.Step).Msg("task finished")
	m.deliverAsync(ctx, result, wasRunning)
}

func (m *Manager) saveLastRuns(ctx context.Context, group, site string) {
	cfg := m.config()
	saveCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout.Std())
	defer cancel()
	ttl := cfg.Scheduler.LastRunTTL.Std()
	if err := m.routing.Groups.SaveLastRun(saveCtx, group, ttl); err != nil {
		log.Warn().Err(err).Str("group", group).Msg("persist last run failed")
	}
	if err := m.routing.Sites.SaveLastRun(saveCtx, site, ttl); err != nil {
		log.Warn().Err(err).Str("site", site).Msg("persist last run failed")
	}
}

func (m *Manager) deliverAsync(ctx context.Context, result model.Result, fresh bool) {
	if !m.claim(result.TaskID) {
		log.Debug().Int64("task_id", result.TaskID).Msg("delivery already in flight")
		return
	}
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		defer m.release(result.TaskID)
		m.deliver(ctx, result, fresh)
	}()
}

// deliver persists the result, drops the finished request and posts the
// result to the consumer. An undelivered result stays stored for the next
// sweep or restart.
func (m *Manager) deliver(ctx context.Context, result model.Result, fresh bool) {
	logger := log.With().Int64("task_id", result.TaskID).Logger()

	if err := m.withStore(ctx, "save result", func(c context.Context) error { return m.store.SaveResult(c, result) }); err != nil {
		return
	}
	if err := m.withStore(ctx, "delete request", func(c context.Context) error { return m.store.DeleteRequest(c, result.TaskID) }); err != nil {
		return
	}

	cfg := m.config().Callbacks
	delivered := false
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
		err := m.notifier.SendResult(sendCtx, result)
		cancel()
		if err == nil {
			delivered = true
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("result callback failed")
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Pause.Std()):
		}
	}

	if delivered {
		if err := m.withStore(ctx, "delete result", func(c context.Context) error { return m.store.DeleteResult(c, result.TaskID) }); err != nil {
			return
		}
		logger.Info().Msg("result delivered")
	} else {
		logger.Warn().Msg("result left for redelivery")
	}

	if fresh {
		if err := m.withStore(ctx, "update site stat", func(c context.Context) error { return m.store.UpdateSiteStat(c, result) }); err != nil {
			return
		}
	}
}

// withStore retries op with a fixed backoff until it succeeds or ctx is done.
func (m *Manager) withStore(ctx context.Context, what string, op func(context.Context) error) error {
	cfg := m.config().Storage
	for {
		opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("op", what).Msg("storage call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-time.After(cfg.Backoff.Std()):
		}
	}
}

func (m *Manager) claim(taskID int64) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if _, busy := m.delivering[taskID]; busy {
		return false
	}
	m.delivering[taskID] = struct{}{}
	return true
}

func (m *Manager) release(taskID int64) {
	m.deliverMu.Lock()
	delete(m.delivering, taskID)
	m.deliverMu.Unlock()
}

// redeliver retries stored results that are not being delivered right now.
func (m *Manager) redeliver(ctx context.Context) {
	var results []model.Result
	err := m.withStore(ctx, "list results", func(c context.Context) error {
		var err error
		results, err = m.store.Results(c)
		return err
	})
	if err != nil {
		return
	}
	for _, result := range results {
		if m.running.Exists(result.TaskID) {
			continue
		}
		m.deliverAsync(ctx, result, false)
	}
}
