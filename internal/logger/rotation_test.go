package logger

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file and directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

		w, err := NewRotatingWriter(path, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		assert.FileExists(t, path)
	})

	t.Run("picks up existing size", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0644))

		w, err := NewRotatingWriter(path, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		assert.Equal(t, int64(len("existing\n")), w.size)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackq.log")

	w, err := NewRotatingWriter(path, 1, 7, false)
	require.NoError(t, err)

	data := []byte(`{"message":"Call dispatched"}` + "\n")
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, w.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(content))

	_, err = w.Write(data)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	w, err := NewRotatingWriter(path, 1, 7, false)
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local) }

	chunk := bytes.Repeat([]byte("a"), 700*1024)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	backup := filepath.Join(dir, "events-2026-03-01T12-00-00.000.jsonl")
	info, err := os.Stat(backup)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriterNoLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	w, err := NewRotatingWriter(path, 0, 0, false)
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("b"), 4096)
	for i := 0; i < 4; i++ {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "events-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRotatingWriterCompress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trackq.log")

	w, err := NewRotatingWriter(path, 1, 0, true)
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local) }

	chunk := bytes.Repeat([]byte("c"), 600*1024)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	backup := filepath.Join(dir, "trackq-2026-03-01T12-00-00.000.log")
	assert.NoFileExists(t, backup)

	f, err := os.Open(backup + ".gz")
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, chunk, content)
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	w, err := NewRotatingWriter(path, 1, 7, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 400*len("line\n"), len(content))
}

func TestRotatingWriterPrune(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	now := time.Now()
	old := filepath.Join(dir, "events-"+now.AddDate(0, 0, -10).Format(backupTimeFormat)+".jsonl")
	oldGz := filepath.Join(dir, "events-"+now.AddDate(0, 0, -9).Format(backupTimeFormat)+".jsonl.gz")
	recent := filepath.Join(dir, "events-"+now.AddDate(0, 0, -1).Format(backupTimeFormat)+".jsonl")
	unrelated := filepath.Join(dir, "events-notes.jsonl")

	for _, p := range []string{old, oldGz, recent, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	w, err := NewRotatingWriter(path, 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldGz)
	assert.FileExists(t, recent)
	assert.FileExists(t, unrelated)
}

func TestBackupTime(t *testing.T) {
	w := &RotatingWriter{path: "/data/events.jsonl"}
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

	got, ok := w.backupTime(w.backupName(stamp))
	require.True(t, ok)
	assert.True(t, stamp.Equal(got))

	got, ok = w.backupTime(w.backupName(stamp) + ".gz")
	require.True(t, ok)
	assert.True(t, stamp.Equal(got))

	_, ok = w.backupTime("/data/audit.log")
	assert.False(t, ok)
	_, ok = w.backupTime("/data/events-latest.jsonl")
	assert.False(t, ok)
}
