package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"downloadcenter/internal/archive"
	"downloadcenter/internal/config"
	"downloadcenter/internal/downloader"
	"downloadcenter/internal/model"
	"downloadcenter/internal/stats"
)

// Manager admits download requests, schedules them under the group and site
// limits, supervises their workers and relays their outcome.
type Manager struct {
	mu          sync.RWMutex
	cfg         config.Config
	archiver    *archive.Archiver
	startWorker StartFunc
	baseCtx     context.Context //nolint:containedctx

	routing  *stats.Routing
	waiting  *Waiting
	running  *Running
	store    Store
	notifier Notifier
	validate *validator.Validate

	statuses chan model.Status
	results  chan model.Result

	deliverMu  sync.Mutex
	delivering map[int64]struct{}

	cron      *cron.Cron
	loopsWG   sync.WaitGroup
	workersWG sync.WaitGroup
	bgWG      sync.WaitGroup
	started   atomic.Bool
}

// NewManager creates a manager and applies the initial configuration.
func NewManager(ctx context.Context, opts Options) *Manager {
	m := &Manager{
		baseCtx:    context.Background(),
		routing:    stats.NewRouting(opts.Cache),
		waiting:    NewWaiting(),
		running:    NewRunning(),
		store:      opts.Store,
		notifier:   opts.Notifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		statuses:   make(chan model.Status, channelBuffer),
		results:    make(chan model.Result, channelBuffer),
		delivering: make(map[int64]struct{}),
		cron:       cron.New(),
	}
	m.startWorker = m.startDownloader
	m.UpdateConfig(ctx, opts.Config)
	return m
}

// UpdateConfig re-applies groups, sites and downloader settings. Running
// counters and last run timestamps of known entries are kept.
func (m *Manager) UpdateConfig(ctx context.Context, cfg config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.archiver = archive.New(cfg.Downloader.Compression)
	m.mu.Unlock()

	m.routing.Apply(ctx, cfg)
	for _, group := range cfg.GroupNames() {
		m.waiting.EnsureGroup(group)
	}
	log.Info().Int("groups", len(cfg.Groups)).Int("sites", len(cfg.Sites)).Msg("configuration applied")
}

func (m *Manager) config() config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetBaseContext sets the context workers run under.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// UseWorkerStarter allows tests to replace the downloader worker.
// Not safe for concurrent mutation with running tasks; intended for test setup only.
func (m *Manager) UseWorkerStarter(start StartFunc) {
	m.mu.Lock()
	m.startWorker = start
	m.mu.Unlock()
}

// Start launches the scheduler loop, the results relay and the redelivery
// sweep. They stop when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}
	cfg := m.config()
	if _, err := m.cron.AddFunc(cfg.Scheduler.RedeliverySchedule, func() { m.redeliver(ctx) }); err != nil {
		return fmt.Errorf("schedule redelivery: %w", err)
	}
	m.cron.Start()

	m.loopsWG.Add(2)
	go func() {
		defer m.loopsWG.Done()
		m.runScheduler(ctx, cfg.Scheduler.PollInterval.Std())
	}()
	go func() {
		defer m.loopsWG.Done()
		m.runRelay(ctx)
	}()
	go func() {
		<-ctx.Done()
		<-m.cron.Stop().Done()
	}()
	return nil
}

// WaitAll blocks until loops, workers and deliveries finish or ctx is done.
// Returns true if everything finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.loopsWG.Wait()
		m.workersWG.Wait()
		m.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// AddTask validates and queues a request and returns its task id.
// A request that is already waiting or running is acknowledged again; any
// other caller-supplied id is dropped so storage assigns a fresh one.
func (m *Manager) AddTask(ctx context.Context, req model.Request) (int64, error) {
	if req.TaskID != 0 && !m.waiting.Contains(req.TaskID) && !m.running.Exists(req.TaskID) {
		req.TaskID = 0
	}
	return m.enqueue(ctx, req, true)
}

func (m *Manager) enqueue(ctx context.Context, req model.Request, persist bool) (int64, error) {
	if err := m.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	group, ok := m.routing.GroupOf(req.Site)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSiteNotSupported, req.Site)
	}
	if req.TaskID != 0 && (m.waiting.Contains(req.TaskID) || m.running.Exists(req.TaskID)) {
		return req.TaskID, nil
	}

	if site, ok := m.routing.Sites.Get(req.Site); ok {
		if req.Proxy == "" {
			req.Proxy = site.Proxy
		}
		if req.Login == "" && req.Password == "" {
			req.Login, req.Password = site.Login, site.Password
		}
	}
	if req.Format == "" {
		req.Format = model.DefaultFormat
	}

	if persist {
		cfg := m.config()
		saveCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout.Std())
		err := m.store.SaveRequest(saveCtx, &req)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("site", req.Site).Msg("save request failed")
			return 0, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	m.waiting.Add(group, WaitingTask{TaskID: req.TaskID, Request: req})
	log.Info().Int64("task_id", req.TaskID).Str("site", req.Site).Str("group", group).Msg("task queued")
	return req.TaskID, nil
}

// CancelTask asks a running task to stop. It is a no-op for tasks that are
// not running and safe to call repeatedly.
func (m *Manager) CancelTask(taskID int64) bool {
	if !m.running.Cancel(taskID) {
		log.Debug().Int64("task_id", taskID).Msg("cancel ignored: task not running")
		return false
	}
	log.Info().Int64("task_id", taskID).Msg("task cancel requested")
	return true
}

func (m *Manager) CheckSite(site string) model.SiteInfo { return m.routing.CheckSite(site) }

func (m *Manager) SitesActive() []string { return m.routing.SitesActive() }

func (m *Manager) SitesWithAuth() []string { return m.routing.SitesWithAuth() }

// IsWaiting reports whether the task is queued.
func (m *Manager) IsWaiting(taskID int64) bool { return m.waiting.Contains(taskID) }

// IsRunning reports whether the task has a worker in flight.
func (m *Manager) IsRunning(taskID int64) bool { return m.running.Exists(taskID) }

// Counts returns the number of waiting and running tasks.
func (m *Manager) Counts() (waiting, running int) {
	return m.waiting.Len(), m.running.Len()
}

func (m *Manager) startDownloader(ctx context.Context, p downloader.Params) Process {
	m.mu.RLock()
	cfg := m.cfg
	splitter := m.archiver
	m.mu.RUnlock()

	settings := downloader.Settings{
		SaveFolder:    cfg.Downloader.SaveFolder,
		ExecFolder:    cfg.Downloader.ExecFolder,
		TempFolder:    cfg.Downloader.TempFolder,
		FileLimit:     cfg.Downloader.FileLimit,
		PulseInterval: cfg.Scheduler.PulseInterval.Std(),
	}
	return downloader.Start(ctx, downloader.New(settings, splitter, p))
}

// executable resolves the downloader variant configured for a site.
func (m *Manager) executable(name string) config.Executable {
	cfg := m.config()
	if exe, ok := cfg.Downloader.Downloaders[name]; ok {
		return exe
	}
	return config.Executable{Folder: name, Exec: defaultExecutable}
}
