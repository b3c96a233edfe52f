package task

import (
	"context"
	"sync/atomic"

	"downloadcenter/internal/config"
	"downloadcenter/internal/downloader"
	"downloadcenter/internal/model"
	"downloadcenter/internal/stats"
)

// WaitingTask is an admitted request queued for its group.
type WaitingTask struct {
	TaskID  int64
	Request model.Request
}

// RunningTask is a task whose worker has been started.
type RunningTask struct {
	TaskID    int64
	UserID    int64
	Site      string
	Group     string
	Cancelled *atomic.Bool
	process   Process
}

// Process is the handle of a started worker.
type Process interface {
	Alive() bool
	Kill()
	Done() <-chan struct{}
}

// StartFunc starts a worker for one task.
type StartFunc func(ctx context.Context, p downloader.Params) Process

// Options wires the manager to its collaborators.
type Options struct {
	Config   config.Config
	Store    Store
	Cache    stats.TimestampCache
	Notifier Notifier
}

const (
	channelBuffer     = 256
	defaultExecutable = "Elib2Ebook"
)
