package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"github.com/timshannon/badgerhold/v4"

	fileutil "downloadcenter/internal/file"
	"downloadcenter/internal/model"
)

const (
	taskSequenceKey  = "seq:task_id"
	sequenceLease    = 16
	timestampKeyRoot = "ts:"
)

var ErrNotFound = errors.New("not found")

// Store keeps requests, results and per-site statistics in Badger.
type Store struct {
	store *badgerhold.Store
	seq   *badger.Sequence
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if err := fileutil.EnsureDir(path); err != nil {
		return nil, err
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := store.Badger().GetSequence([]byte(taskSequenceKey), sequenceLease)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("task id sequence: %w", err)
	}
	log.Debug().Str("path", path).Msg("badger store opened")
	return &Store{store: store, seq: seq}, nil
}

// Close releases the id lease and closes the database.
func (s *Store) Close() error {
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			log.Warn().Err(err).Msg("release task id sequence")
		}
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// SaveRequest stores req, assigning a new TaskID when it has none.
func (s *Store) SaveRequest(ctx context.Context, req *model.Request) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	if req.TaskID == 0 {
		id, err := s.nextID()
		if err != nil {
			return err
		}
		req.TaskID = id
	}
	if err := s.store.Upsert(req.TaskID, req); err != nil {
		return fmt.Errorf("save request %d: %w", req.TaskID, err)
	}
	return nil
}

func (s *Store) nextID() (int64, error) {
	for {
		n, err := s.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("next task id: %w", err)
		}
		// zero means "not assigned" on the wire
		if n > 0 {
			return int64(n), nil //nolint:gosec // sequence stays far below MaxInt64
		}
	}
}

func (s *Store) DeleteRequest(ctx context.Context, taskID int64) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	return s.delete(taskID, &model.Request{})
}

// Requests lists every stored request ordered by task id.
func (s *Store) Requests(ctx context.Context) ([]model.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	var requests []model.Request
	if err := s.store.Find(&requests, badgerhold.Where("TaskID").Gt(int64(0)).SortBy("TaskID")); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// SaveResult upserts the result under its task id.
func (s *Store) SaveResult(ctx context.Context, result model.Result) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := s.store.Upsert(result.TaskID, &result); err != nil {
		return fmt.Errorf("save result %d: %w", result.TaskID, err)
	}
	return nil
}

func (s *Store) DeleteResult(ctx context.Context, taskID int64) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	return s.delete(taskID, &model.Result{})
}

// Results lists every stored result ordered by task id.
func (s *Store) Results(ctx context.Context) ([]model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	var results []model.Result
	if err := s.store.Find(&results, badgerhold.Where("TaskID").Gt(int64(0)).SortBy("TaskID")); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

func (s *Store) delete(key int64, dataType any) error {
	err := s.store.Delete(key, dataType)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %d: %w", key, err)
	}
	return nil
}

// UpdateSiteStat folds a terminal result into today's counters for its site.
// Cancelled results are not counted.
func (s *Store) UpdateSiteStat(ctx context.Context, result model.Result) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	if result.Step == model.StepCancelled || result.Site == "" {
		return nil
	}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	key := siteDayKey(result.Site, day)

	return s.store.Badger().Update(func(txn *badger.Txn) error {
		var stat model.SiteDayStat
		err := s.store.TxGet(txn, key, &stat)
		switch {
		case errors.Is(err, badgerhold.ErrNotFound):
			stat = model.SiteDayStat{Site: result.Site, Day: day}
		case err != nil:
			return fmt.Errorf("get site stat: %w", err)
		}
		if result.Step == model.StepDone {
			stat.Success++
		} else {
			stat.Failure++
		}
		stat.OrigSize += result.OrigSize
		stat.OperSize += result.OperSize
		if err := s.store.TxUpsert(txn, key, &stat); err != nil {
			return fmt.Errorf("upsert site stat: %w", err)
		}
		return nil
	})
}

// SiteStats lists the daily counters of site, oldest first.
func (s *Store) SiteStats(ctx context.Context, site string) ([]model.SiteDayStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	var stats []model.SiteDayStat
	if err := s.store.Find(&stats, badgerhold.Where("Site").Eq(site).SortBy("Day")); err != nil {
		return nil, fmt.Errorf("list site stats: %w", err)
	}
	return stats, nil
}

func siteDayKey(site string, day time.Time) string {
	return site + "|" + day.Format(time.DateOnly)
}
