package task

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"downloadcenter/internal/model"
)

// Recover re-admits stored requests and re-runs delivery of stored results
// left by a previous run. Requests that already have a result are not
// downloaded again.
func (m *Manager) Recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var (
		requests []model.Request
		results  []model.Result
	)
	err := m.withStore(ctx, "list requests", func(c context.Context) error {
		var err error
		requests, err = m.store.Requests(c)
		return err
	})
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	err = m.withStore(ctx, "list results", func(c context.Context) error {
		var err error
		results, err = m.store.Results(c)
		return err
	})
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	finished := make(map[int64]struct{}, len(results))
	for _, result := range results {
		finished[result.TaskID] = struct{}{}
	}

	restored := 0
	for _, req := range requests {
		if _, ok := finished[req.TaskID]; ok {
			continue
		}
		if _, err := m.enqueue(ctx, req, false); err != nil {
			log.Warn().Err(err).Int64("task_id", req.TaskID).Str("site", req.Site).Msg("stored request not restored")
			continue
		}
		restored++
	}
	for _, result := range results {
		m.finish(ctx, result)
	}
	log.Info().Int("requests", restored).Int("results", len(results)).Msg("state recovered")
	return nil
}
