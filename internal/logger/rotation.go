package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "2006-01-02T15-04-05.000"

// RotatingWriter appends to a file and moves it aside once it would grow
// past the size limit. Backups are named <name>-<timestamp><ext>, optionally
// gzipped, and pruned after maxAge days. Used for both the log file and the
// tracked events file.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	limit    int64
	maxAge   int
	compress bool

	file *os.File
	size int64

	// background compression and pruning
	jobs sync.WaitGroup
	now  func() time.Time
}

// NewRotatingWriter opens filename for appending. maxSizeMB <= 0 disables
// rotation; maxAge <= 0 keeps backups forever.
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	file, err := openAppend(filename)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RotatingWriter{
		path:     filename,
		limit:    int64(maxSizeMB) << 20,
		maxAge:   maxAge,
		compress: compress,
		file:     file,
		size:     info.Size(),
		now:      time.Now,
	}

	opened := w.now()
	w.background(func() { w.prune(opened) })

	return w, nil
}

// Write appends p, rotating first when p would push the file past the limit.
// A single write larger than the limit still lands in one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.limit > 0 && w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotateLocked(); err != nil {
			return 0, fmt.Errorf("failed to rotate %s: %w", w.path, err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file and waits for pending compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	file := w.file
	w.file = nil
	w.mu.Unlock()

	var err error
	if file != nil {
		err = file.Close()
	}
	w.jobs.Wait()
	return err
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	now := w.now()
	backup := w.backupName(now)
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}

	file, err := openAppend(w.path)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0

	if w.compress {
		w.background(func() { _ = gzipFile(backup) })
	}
	w.background(func() { w.prune(now) })

	return nil
}

func (w *RotatingWriter) background(fn func()) {
	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()
		fn()
	}()
}

func (w *RotatingWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "-" + t.Format(backupTimeFormat) + ext
}

// backupTime parses the timestamp out of a backup name. ok is false for
// files that are not backups of this writer.
func (w *RotatingWriter) backupTime(path string) (time.Time, bool) {
	ext := filepath.Ext(w.path)
	prefix := strings.TrimSuffix(w.path, ext) + "-"

	name := strings.TrimSuffix(path, ".gz")
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)

	t, err := time.ParseInLocation(backupTimeFormat, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// prune deletes backups older than maxAge days before now.
func (w *RotatingWriter) prune(now time.Time) {
	if w.maxAge <= 0 {
		return
	}

	ext := filepath.Ext(w.path)
	matches, err := filepath.Glob(strings.TrimSuffix(w.path, ext) + "-*")
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -w.maxAge)
	for _, path := range matches {
		if t, ok := w.backupTime(path); ok && t.Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// openAppend opens filename for appending, creating its directory.
func openAppend(filename string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
