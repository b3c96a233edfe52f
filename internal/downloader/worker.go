package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"downloadcenter/internal/config"
	fileutil "downloadcenter/internal/file"
	"downloadcenter/internal/model"
)

const (
	defaultPulseInterval = 5 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
	defaultFileLimit     = 49_000_000
	processWaitDelay     = time.Second
	maxLineSize          = 1 << 20
)

var (
	ErrProcessFailed = errors.New("downloader exited with error")
	ErrNoFiles       = errors.New("no files found")
	ErrNoBook        = errors.New("no book of requested format")

	errCancelled = errors.New("cancelled")
)

// Splitter cuts an oversized file into volumes.
type Splitter interface {
	Split(ctx context.Context, src, destDir string, limit int64) ([]string, error)
}

// Settings are shared by all workers.
type Settings struct {
	SaveFolder    string
	ExecFolder    string
	TempFolder    string
	FileLimit     int64
	PulseInterval time.Duration
	PollInterval  time.Duration
}

// Params describe one task run.
type Params struct {
	Request    model.Request
	Executable config.Executable
	Cancelled  *atomic.Bool
	Statuses   chan<- model.Status
	Results    chan<- model.Result
}

type outcome struct {
	text     string
	cover    string
	book     string
	files    []string
	chapters int
	origSize int64
	operSize int64
}

// Worker runs one download: the external tool, post-processing and exactly
// one terminal result.
type Worker struct {
	req       model.Request
	exe       config.Executable
	settings  Settings
	splitter  Splitter
	cancelled *atomic.Bool
	statuses  chan<- model.Status
	results   chan<- model.Result
	folder    string

	mu      sync.Mutex
	step    model.Step
	message string

	stderr lockedBuffer
	out    outcome
}

func New(settings Settings, splitter Splitter, p Params) *Worker {
	if settings.PulseInterval <= 0 {
		settings.PulseInterval = defaultPulseInterval
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaultPollInterval
	}
	if settings.FileLimit <= 0 {
		settings.FileLimit = defaultFileLimit
	}
	cancelled := p.Cancelled
	if cancelled == nil {
		cancelled = new(atomic.Bool)
	}
	return &Worker{
		req:       p.Request,
		exe:       p.Executable,
		settings:  settings,
		splitter:  splitter,
		cancelled: cancelled,
		statuses:  p.Statuses,
		results:   p.Results,
		folder:    filepath.Join(settings.SaveFolder, strconv.FormatInt(p.Request.TaskID, 10)),
		step:      model.StepIdle,
	}
}

// Run executes the pipeline and emits at most one Result, also after a panic.
// Cancelling ctx kills the downloader; the Result is then only emitted when
// the cancellation flag was raised, so a stopped service re-runs the task.
func (w *Worker) Run(ctx context.Context) {
	logger := log.With().Int64("task_id", w.req.TaskID).Str("site", w.req.Site).Logger()
	logger.Info().Msg("worker started")

	w.setState(model.StepWait, msgStarted)
	pulseDone := make(chan struct{})
	pulseStopped := make(chan struct{})
	go w.pulse(ctx, pulseDone, pulseStopped)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("worker panic")
			w.fail(fmt.Errorf("worker panic: %v", r))
		}
		close(pulseDone)
		<-pulseStopped
		w.emitResult(ctx)
		logger.Info().Stringer("step", w.currentStep()).Msg("worker finished")
	}()

	w.setStep(model.StepInit)
	err := w.download(ctx)
	if err == nil {
		err = w.process(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, errCancelled):
		w.setState(model.StepCancelled, msgCancelled)
	default:
		logger.Warn().Err(err).Msg("download failed")
		w.fail(err)
	}
}

// download runs the external tool and streams its progress.
func (w *Worker) download(ctx context.Context) error {
	if err := fileutil.ResetDir(w.folder); err != nil {
		return err
	}

	procCtx, kill := context.WithCancel(context.Background())
	defer kill()

	execPath := filepath.Join(w.settings.ExecFolder, w.exe.Folder, w.exe.Exec)
	cmd := exec.CommandContext(procCtx, execPath, buildArgs(w.req, w.folder)...) //nolint:gosec // executable comes from deployment config
	cmd.Stderr = &w.stderr
	cmd.WaitDelay = processWaitDelay
	if w.settings.TempFolder != "" {
		cmd.Env = append(os.Environ(), "TMPDIR="+w.settings.TempFolder)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start downloader: %w", err)
	}
	w.setStep(model.StepRunning)

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string, 16)
	go readLines(stdout, lines, stop)

	ticker := time.NewTicker(w.settings.PollInterval)
	defer ticker.Stop()

	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				break
			}
			if msg := translateLine(line); msg != "" {
				w.setMessage(msg)
			}
		case <-ticker.C:
		case <-ctx.Done():
		}
		if w.isCancelled(ctx) {
			kill()
			_ = cmd.Wait()
			return errCancelled
		}
	}

	if err := cmd.Wait(); err != nil {
		if w.isCancelled(ctx) {
			return errCancelled
		}
		return fmt.Errorf("%w: %w", ErrProcessFailed, err)
	}
	empty, err := fileutil.IsEmptyDir(w.folder)
	if err != nil {
		return err
	}
	if empty {
		return ErrNoFiles
	}
	return nil
}

// readLines streams stdout lines until EOF. After an oversized line the rest
// of the output is discarded but still read, so the tool never blocks on a
// full pipe.
func readLines(r io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("downloader output no longer parsed")
		_, _ = io.Copy(io.Discard, r)
	}
}

// pulse reports the current message whenever it changed since the last report.
func (w *Worker) pulse(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(w.settings.PulseInterval)
	defer ticker.Stop()

	lastSent := ""
	for {
		step, message := w.state()
		if message != lastSent {
			select {
			case w.statuses <- w.req.NewStatus(message, step):
				lastSent = message
			default:
				// relay busy, retry on the next tick
			}
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == model.StepCancelled {
		return
	}
	w.step = model.StepError
	w.message = msgError

	text := msgError
	if stderr := strings.TrimSpace(w.stderr.String()); stderr != "" {
		text += " ```\n" + escapeErr(stderr) + "\n```"
	} else if err != nil {
		text += " ```\n" + escapeErr(err.Error()) + "\n```"
	}
	w.out.text = text
}

func (w *Worker) emitResult(ctx context.Context) {
	step := w.currentStep()
	if step == model.StepError || step == model.StepCancelled {
		if err := fileutil.RemoveDir(w.folder); err != nil {
			log.Warn().Err(err).Int64("task_id", w.req.TaskID).Msg("remove task folder failed")
		}
		w.out.cover = ""
		w.out.files = nil
	}

	if ctx.Err() != nil && !w.cancelled.Load() {
		log.Warn().Int64("task_id", w.req.TaskID).Msg("worker stopped, result dropped")
		return
	}

	result := w.req.NewResult(step)
	result.Text = w.out.text
	result.Cover = w.out.cover
	if w.out.files != nil {
		result.Files = w.out.files
	}
	result.OrigSize = w.out.origSize
	result.OperSize = w.out.operSize

	select {
	case w.results <- result:
	default:
		select {
		case w.results <- result:
		case <-ctx.Done():
			log.Warn().Int64("task_id", w.req.TaskID).Msg("result dropped on shutdown")
		}
	}
}

func (w *Worker) isCancelled(ctx context.Context) bool {
	return w.cancelled.Load() || ctx.Err() != nil
}

func (w *Worker) setState(step model.Step, message string) {
	w.mu.Lock()
	w.step = step
	w.message = message
	w.mu.Unlock()
}

func (w *Worker) setStep(step model.Step) {
	w.mu.Lock()
	w.step = step
	w.mu.Unlock()
}

func (w *Worker) setMessage(message string) {
	w.mu.Lock()
	w.message = message
	w.mu.Unlock()
}

func (w *Worker) state() (model.Step, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step, w.message
}

func (w *Worker) currentStep() model.Step {
	step, _ := w.state()
	return step
}

// lockedBuffer collects stderr written by the exec copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p) //nolint:wrapcheck
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
