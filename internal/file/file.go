package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// ResetDir removes dirPath with everything below it and creates it empty.
func ResetDir(dirPath string) error {
	if err := RemoveDir(dirPath); err != nil {
		return err
	}
	return EnsureDir(dirPath)
}

// RemoveDir removes dirPath recursively. A missing directory is not an error.
func RemoveDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("remove dir: %w", err)
	}
	return nil
}

// ListFiles returns the regular files directly under dirPath, sorted by name.
func ListFiles(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dirPath, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsEmptyDir reports whether dirPath has no entries at all.
func IsEmptyDir(dirPath string) (bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return false, fmt.Errorf("read dir: %w", err)
	}
	return len(entries) == 0, nil
}

// Size returns the size of a single file in bytes.
func Size(filename string) (int64, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	return info.Size(), nil
}

// TotalSize sums the sizes of the given files.
func TotalSize(filenames []string) (int64, error) {
	var total int64
	for _, name := range filenames {
		size, err := Size(name)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// AtomicFile is written to a temporary file in the destination directory
// and renamed into place on Commit.
type AtomicFile struct {
	*os.File
	filename string
	tmpName  string
}

// CreateAtomic opens a temporary file that becomes filename after Commit.
func CreateAtomic(filename string) (*AtomicFile, error) {
	if filename == "" {
		return nil, errors.New("empty filename")
	}
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	return &AtomicFile{File: tempFile, filename: filename, tmpName: tempFile.Name()}, nil
}

// Commit flushes the temporary file and moves it to its final name.
func (f *AtomicFile) Commit() error {
	// ensure data hits disk
	if err := f.Sync(); err != nil {
		f.Abort()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(f.filename); err == nil {
		_ = os.Remove(f.filename)
	}

	if err := os.Rename(f.tmpName, f.filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// Abort drops the temporary file.
func (f *AtomicFile) Abort() {
	_ = f.Close()
	_ = os.Remove(f.tmpName)
}

// Name returns the final file name.
func (f *AtomicFile) Name() string { return f.filename }
