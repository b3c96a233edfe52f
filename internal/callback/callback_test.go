package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"downloadcenter/internal/model"
)

type recorder struct {
	mu      sync.Mutex
	paths   []string
	keys    []string
	results []model.Result
	code    int
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.URL.Path)
	r.keys = append(r.keys, req.Header.Get("Idempotency-Key"))
	if req.URL.Path == "/download/done" {
		var res model.Result
		_ = json.NewDecoder(req.Body).Decode(&res)
		r.results = append(r.results, res)
	}
	w.WriteHeader(r.code)
}

func TestSendResultPostsToDoneEndpoint(t *testing.T) {
	rec := &recorder{code: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := New(Options{BotHost: srv.URL + "/"})
	result := model.Result{TaskID: 42, Step: model.StepDone, Files: []string{"x.fb2"}}
	require.NoError(t, n.SendResult(context.Background(), result))
	require.NoError(t, n.SendResult(context.Background(), result))

	assert.Equal(t, []string{"/download/done", "/download/done"}, rec.paths)
	assert.Equal(t, rec.keys[0], rec.keys[1], "re-deliveries share the key")
	assert.Equal(t, ResultKey(42), rec.keys[0])
	assert.Equal(t, model.StepDone, rec.results[0].Step)
}

func TestNon200IsFailure(t *testing.T) {
	rec := &recorder{code: http.StatusAccepted}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := New(Options{BotHost: srv.URL + "/"})
	assert.Error(t, n.SendResult(context.Background(), model.Result{TaskID: 1}))
	assert.Error(t, n.SendStatus(context.Background(), model.Status{TaskID: 1}))
	assert.Equal(t, "/download/status", rec.paths[1])
}

func TestStatusRateLimit(t *testing.T) {
	rec := &recorder{code: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := New(Options{BotHost: srv.URL + "/", StatusRate: 2})
	require.NoError(t, n.SendStatus(context.Background(), model.Status{TaskID: 1}))
	require.NoError(t, n.SendStatus(context.Background(), model.Status{TaskID: 1}))
	assert.ErrorIs(t, n.SendStatus(context.Background(), model.Status{TaskID: 1}), ErrRateLimited)
	// results are never throttled
	assert.NoError(t, n.SendResult(context.Background(), model.Result{TaskID: 1}))
}

func TestMissingHost(t *testing.T) {
	n := New(Options{})
	assert.ErrorIs(t, n.SendResult(context.Background(), model.Result{TaskID: 1}), ErrNoHost)
}

func TestIdempotencyKeyDiffersPerTask(t *testing.T) {
	assert.NotEqual(t, ResultKey(1), ResultKey(2))
}

func TestStatusAndResultKeysAreDistinct(t *testing.T) {
	rec := &recorder{code: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := New(Options{BotHost: srv.URL + "/"})
	req := model.Request{TaskID: 9}
	first := req.NewStatus("Chapter 1", model.StepRunning)
	second := req.NewStatus("Chapter 2", model.StepRunning)
	require.NoError(t, n.SendStatus(context.Background(), first))
	require.NoError(t, n.SendStatus(context.Background(), second))
	require.NoError(t, n.SendStatus(context.Background(), first))
	require.NoError(t, n.SendResult(context.Background(), req.NewResult(model.StepDone)))
	require.NoError(t, n.SendResult(context.Background(), req.NewResult(model.StepDone)))

	require.Len(t, rec.keys, 5)
	assert.NotEqual(t, rec.keys[0], rec.keys[1], "each progress update has its own key")
	assert.Equal(t, rec.keys[0], rec.keys[2], "a repeated update keeps its key")
	assert.NotEqual(t, rec.keys[0], rec.keys[3], "a status never shares the result key")
	assert.NotEqual(t, rec.keys[1], rec.keys[3])
	assert.Equal(t, rec.keys[3], rec.keys[4], "result re-deliveries share the key")
	assert.Equal(t, ResultKey(9), rec.keys[3])
	assert.Equal(t, StatusKey(first), rec.keys[0])
}
