package task

import (
	"context"

	"downloadcenter/internal/model"
)

// Store persists requests until they finish and results until they are
// delivered. The Badger-backed implementation lives in internal/storage.
type Store interface {
	SaveRequest(ctx context.Context, req *model.Request) error
	DeleteRequest(ctx context.Context, taskID int64) error
	Requests(ctx context.Context) ([]model.Request, error)
	SaveResult(ctx context.Context, result model.Result) error
	DeleteResult(ctx context.Context, taskID int64) error
	Results(ctx context.Context) ([]model.Result, error)
	UpdateSiteStat(ctx context.Context, result model.Result) error
}

// Notifier delivers callbacks to the consumer.
type Notifier interface {
	SendStatus(ctx context.Context, status model.Status) error
	SendResult(ctx context.Context, result model.Result) error
}
