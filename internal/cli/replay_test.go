package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/trackq/pkg/logtracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replayFixture = `[
	["newTracker", "main"],
	["trackPageView:main", "Home"],
	["setCollectorUrl", "collector.example.com"],
	["trackStructEvent:default", "ui", "click"],
	["trackNothing:main"]
]`

func TestReplayCommandFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	require.NoError(t, os.WriteFile(path, []byte(replayFixture), 0644))

	out, errOut, err := execute(t, "", "replay", "--buffer", path, "--tracker-version", "js-2.0.0")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first, second logtracker.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, logtracker.KindPageView, first.Kind)
	assert.Equal(t, "js-2.0.0", first.TrackerVersion)
	assert.Equal(t, logtracker.KindStructEvent, second.Kind)
	assert.Equal(t, "https://collector.example.com/i", second.Collector)
	assert.Equal(t, first.DomainUserID, second.DomainUserID, "trackers share state")

	assert.Contains(t, errOut, "Replayed 5 calls")
	assert.Contains(t, errOut, "1 failed")
	assert.Contains(t, errOut, "1 deprecated")
	assert.Contains(t, errOut, "Trackers: main, default")
}

func TestReplayCommandFromStdin(t *testing.T) {
	out, errOut, err := execute(t, `[["newTracker","web"],["trackPageView","Landing"]]`, "replay", "--stdin")
	require.NoError(t, err)

	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
	assert.Contains(t, errOut, "Trackers: web")
}

func TestReplayCommandErrors(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		_, _, err := execute(t, "", "replay")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--buffer or --stdin")
	})

	t.Run("both sources", func(t *testing.T) {
		_, _, err := execute(t, "", "replay", "--stdin", "--buffer", "calls.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mutually exclusive")
	})

	t.Run("invalid buffer", func(t *testing.T) {
		_, _, err := execute(t, `{"calls": []}`, "replay", "--stdin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid call buffer")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute(t, "", "replay", "--buffer", filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
