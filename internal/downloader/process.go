package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "downloadcenter/internal/file"
	"downloadcenter/internal/model"
)

const splitFolder = "splitted"

var coverExtensions = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "gif": {}}

// process turns the downloader output into the files handed to the consumer.
func (w *Worker) process(ctx context.Context) error {
	if w.isCancelled(ctx) {
		return errCancelled
	}
	w.setState(model.StepProcessing, msgProcessing)

	if err := w.classify(); err != nil {
		return err
	}
	if w.isCancelled(ctx) {
		return errCancelled
	}
	if err := w.rename(); err != nil {
		return err
	}
	if w.isCancelled(ctx) {
		return errCancelled
	}
	if err := w.pack(ctx); err != nil {
		return err
	}
	if w.isCancelled(ctx) {
		return errCancelled
	}
	w.setState(model.StepDone, msgUploading)
	return nil
}

// classify keeps the book and its cover, renders the caption from the
// metadata file and removes everything else.
func (w *Worker) classify() error {
	files, err := fileutil.ListFiles(w.folder)
	if err != nil {
		return err
	}
	format := formatOf(w.req)
	for _, path := range files {
		name := filepath.Base(path)
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		stem := strings.TrimSuffix(name, filepath.Ext(name))

		switch {
		case ext == "json":
			raw, err := os.ReadFile(path) //nolint:gosec // path is under the task folder
			if err != nil {
				return fmt.Errorf("read metadata: %w", err)
			}
			w.out.text, w.out.chapters = renderCaption(raw, w.req.Ranged())
			w.remove(path)
		case ext == format && w.out.book == "":
			w.out.book = path
		case isCover(ext, stem):
			w.out.cover = path
		default:
			w.remove(path)
		}
	}
	if w.out.book == "" {
		return fmt.Errorf("%w: %s", ErrNoBook, format)
	}
	return nil
}

func isCover(ext, stem string) bool {
	_, ok := coverExtensions[ext]
	return ok && strings.HasSuffix(stem, "_cover")
}

func (w *Worker) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Int64("task_id", w.req.TaskID).Str("file", path).Msg("remove file failed")
	}
}

// rename appends the chapter range to the book name.
func (w *Worker) rename() error {
	if !w.req.Ranged() {
		return nil
	}
	suffix := rangeSuffix(w.req.Start, w.req.End, w.out.chapters)
	if suffix == "" {
		return nil
	}
	dir, name := filepath.Split(w.out.book)
	ext := filepath.Ext(name)
	renamed := filepath.Join(dir, strings.TrimSuffix(name, ext)+suffix+ext)
	if err := os.Rename(w.out.book, renamed); err != nil {
		return fmt.Errorf("rename book: %w", err)
	}
	w.out.book = renamed
	return nil
}

// rangeSuffix names the chapter range of a partial download.
func rangeSuffix(start, end, chapters int) string {
	if chapters <= 0 {
		return ""
	}
	switch {
	case start > 0 && end > 0:
		return fmt.Sprintf("-parted-from-%d-to-%d", start, end)
	case start > 0 && end < 0:
		return fmt.Sprintf("-parted-from-%d-wo-last-%d", start, -end)
	case start > 0:
		return fmt.Sprintf("-parted-from-%d-to-%d", start, start+chapters)
	case start < 0 && end == 0:
		// only a tail covering every downloaded chapter is named
		if -start >= chapters {
			return fmt.Sprintf("-parted-last-%d", -start)
		}
		return ""
	case start == 0 && end > 0:
		return fmt.Sprintf("-parted-from-1-to-%d", chapters)
	case start == 0 && end < 0:
		if -end >= chapters {
			return fmt.Sprintf("-parted-from-1-to-%d", chapters)
		}
		return fmt.Sprintf("-parted-wo-last-%d", -end)
	default:
		return ""
	}
}

// pack splits the book into volumes when it does not fit the size limit.
func (w *Worker) pack(ctx context.Context) error {
	size, err := fileutil.Size(w.out.book)
	if err != nil {
		return err
	}
	w.out.origSize = size
	if size < w.settings.FileLimit {
		w.out.files = []string{w.out.book}
		return nil
	}

	w.setMessage(msgArchiving)
	volumes, err := w.splitter.Split(ctx, w.out.book, filepath.Join(w.folder, splitFolder), w.settings.FileLimit)
	if err != nil {
		if w.isCancelled(ctx) {
			return errCancelled
		}
		return fmt.Errorf("split book: %w", err)
	}
	operSize, err := fileutil.TotalSize(volumes)
	if err != nil {
		return err
	}
	w.out.files = volumes
	w.out.operSize = operSize
	return nil
}
