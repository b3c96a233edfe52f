package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"downloadcenter/internal/model"
)

const (
	statusPath = "download/status"
	donePath   = "download/done"
)

var (
	ErrNoHost      = errors.New("callback host not configured")
	ErrRateLimited = errors.New("status callback rate limited")
)

// Options configures the HTTP notifier.
type Options struct {
	BotHost    string
	Timeout    time.Duration
	StatusRate int
}

// Notifier posts status and result callbacks to the consumer.
type Notifier struct {
	host    string
	client  *http.Client
	limiter *rate.Limiter
}

func New(opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.StatusRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.StatusRate), opts.StatusRate)
	}
	return &Notifier{
		host:    opts.BotHost,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// ResultKey is the Idempotency-Key shared by every delivery attempt of a
// task's terminal result.
func ResultKey(taskID int64) string {
	return idempotencyKey(donePath, strconv.FormatInt(taskID, 10))
}

// StatusKey identifies one progress update; a repeated post of the same
// update carries the same key, a new update gets a new one.
func StatusKey(status model.Status) string {
	return idempotencyKey(statusPath,
		strconv.FormatInt(status.TaskID, 10), strconv.Itoa(int(status.Step)), status.Text)
}

func idempotencyKey(path string, parts ...string) string {
	name := "downloadcenter:" + path + ":" + strings.Join(parts, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// SendStatus posts a progress update once. Updates over the rate limit are dropped.
func (n *Notifier) SendStatus(ctx context.Context, status model.Status) error {
	if !n.limiter.Allow() {
		return ErrRateLimited
	}
	return n.post(ctx, statusPath, status.TaskID, StatusKey(status), status)
}

// SendResult posts a terminal result once. Only HTTP 200 counts as delivered.
func (n *Notifier) SendResult(ctx context.Context, result model.Result) error {
	return n.post(ctx, donePath, result.TaskID, ResultKey(result.TaskID), result)
}

func (n *Notifier) post(ctx context.Context, path string, taskID int64, key string, payload any) error {
	if n.host == "" {
		return ErrNoHost
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debug().Int64("task_id", taskID).Int("status", resp.StatusCode).Str("path", path).Msg("callback not accepted")
		return fmt.Errorf("post %s: http %d", path, resp.StatusCode)
	}
	return nil
}
