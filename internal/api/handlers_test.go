package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"downloadcenter/internal/config"
	"downloadcenter/internal/model"
	"downloadcenter/internal/task"
)

type fakeService struct {
	mu        sync.Mutex
	addErr    error
	added     []model.Request
	cancelled []int64
	running   map[int64]bool
	applied   []config.Config
}

func (s *fakeService) AddTask(_ context.Context, req model.Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return 0, s.addErr
	}
	s.added = append(s.added, req)
	return int64(100 + len(s.added)), nil
}

func (s *fakeService) CancelTask(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, taskID)
	return s.running[taskID]
}

func (s *fakeService) CheckSite(site string) model.SiteInfo {
	if site != "author.today" {
		return model.SiteInfo{Parameters: []string{}, Formats: []string{}}
	}
	return model.SiteInfo{Allowed: true, Parameters: []string{"auth"}, Formats: []string{"fb2", "epub"}}
}

func (s *fakeService) SitesActive() []string   { return []string{"author.today", "ranobes.com"} }
func (s *fakeService) SitesWithAuth() []string { return nil }
func (s *fakeService) Counts() (int, int)      { return 2, 1 }

func (s *fakeService) UpdateConfig(_ context.Context, cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, cfg)
}

func setupRouter(service *fakeService, reload ConfigLoader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ZerologLogger())
	if reload == nil {
		reload = func() (config.Config, error) { return config.Default(), nil }
	}
	handler := NewAPI(service, reload)
	handler.RegisterRoutes(router)
	handler.RegisterUIRoutes(router)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestNewDownload(t *testing.T) {
	service := &fakeService{}
	router := setupRouter(service, nil)

	w := postJSON(t, router, "/download/new", `{"user_id":1,"bot_id":"b","site":"author.today","url":"https://author.today/work/1","start":2,"end":-1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"101"`, w.Body.String(), "the body is the bare task id")
	assert.Equal(t, "101", decode[string](t, w))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	require.Len(t, service.added, 1)
	assert.Equal(t, 2, service.added[0].Start)
	assert.Equal(t, -1, service.added[0].End)
}

func TestNewDownloadRejected(t *testing.T) {
	cases := map[string]struct {
		err     error
		message string
	}{
		"storage":     {err: fmt.Errorf("%w: deadline exceeded", task.ErrStorageUnavailable), message: "storage unavailable"},
		"unsupported": {err: fmt.Errorf("%w: x.org", task.ErrSiteNotSupported), message: "site not supported"},
		"other":       {err: errors.New("boom"), message: "boom"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := setupRouter(&fakeService{addErr: tc.err}, nil)
			w := postJSON(t, router, "/download/new", `{"user_id":1,"bot_id":"b","site":"x.org","url":"https://x.org/1"}`)
			require.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, tc.message, decode[string](t, w), "the body is the bare reason")
		})
	}
}

func TestNewDownloadMalformedBody(t *testing.T) {
	router := setupRouter(&fakeService{}, nil)
	w := postJSON(t, router, "/download/new", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelDownload(t *testing.T) {
	service := &fakeService{running: map[int64]bool{7: true}}
	router := setupRouter(service, nil)

	w := postJSON(t, router, "/download/cancel", `{"task_id":7}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.Response](t, w).Status)

	w = postJSON(t, router, "/download/cancel", `{"task_id":8}`)
	require.Equal(t, http.StatusOK, w.Code, "cancel of a task that is not running still succeeds")
	assert.False(t, decode[model.Response](t, w).Status)

	w = postJSON(t, router, "/download/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []int64{7, 8}, service.cancelled)
}

func TestSiteQueries(t *testing.T) {
	router := setupRouter(&fakeService{}, nil)

	w := postJSON(t, router, "/sites/check", `{"site":"author.today"}`)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[model.SiteInfo](t, w)
	assert.True(t, info.Allowed)
	assert.Equal(t, []string{"fb2", "epub"}, info.Formats)

	w = postJSON(t, router, "/sites/check", `{"site":"nope.org"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.SiteInfo](t, w).Allowed)

	w = postJSON(t, router, "/sites/active", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"author.today", "ranobes.com"}, decode[sitesResponse](t, w).Sites)

	w = postJSON(t, router, "/sites/auths", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sites":[]}`, w.Body.String())
}

func TestUpdateConfig(t *testing.T) {
	service := &fakeService{}
	reloaded := config.Default()
	reloaded.Port = 9999
	router := setupRouter(service, func() (config.Config, error) { return reloaded, nil })

	w := postJSON(t, router, "/update_config", ``)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, service.applied, 1)
	assert.Equal(t, 9999, service.applied[0].Port)

	failing := setupRouter(service, func() (config.Config, error) { return config.Config{}, errors.New("bad yaml") })
	w = postJSON(t, failing, "/update_config", ``)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, service.applied, 1, "a broken file leaves the running config alone")
}

func TestStatusPage(t *testing.T) {
	service := &fakeService{running: map[int64]bool{5: true}}
	router := setupRouter(service, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Waiting: <strong>2</strong>")
	assert.Contains(t, w.Body.String(), "ranobes.com")

	form := url.Values{"task_id": {"5"}}
	req := httptest.NewRequest(http.MethodPost, "/ui/cancel", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cancel requested for task 5")

	req = httptest.NewRequest(http.MethodPost, "/ui/cancel", strings.NewReader("task_id=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
