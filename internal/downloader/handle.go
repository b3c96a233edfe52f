package downloader

import "context"

// Handle controls a worker started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs w in its own goroutine.
func Start(ctx context.Context, w *Worker) *Handle {
	workerCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		w.Run(workerCtx)
	}()
	return h
}

// Alive reports whether the worker has not finished yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Kill stops the worker and its downloader process.
func (h *Handle) Kill() { h.cancel() }

// Done is closed once the worker returned.
func (h *Handle) Done() <-chan struct{} { return h.done }
