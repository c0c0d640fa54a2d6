package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBeforeInitializeIsNoop(t *testing.T) {
	CloseAll()

	l := Get(CategorySession)
	require.NotNil(t, l)

	// Must not panic.
	l.Debug("debug %d", 1)
	l.Info("info %s", "x")
	l.Warn("warn")
	l.Error("error")
	l.With("k", "v").Info("with context")
}

func TestInitializeWritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	defer CloseAll()

	Session("conversation started: %s", "cs-1")
	Get(CategorySession).Warn("slow turn")
	CloseAll()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "session.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "conversation started: cs-1")
	assert.Contains(t, string(data), "slow turn")
}

func TestUnknownCategoryFallsBackToNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	defer CloseAll()

	l := Get(Category("nope"))
	require.NotNil(t, l)
	l.Info("discarded")
}

func TestTimerStopWithThreshold(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	defer CloseAll()

	timer := StartTimer(CategoryCoordinator, "sweep")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)
	CloseAll()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "coordinator.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sweep took")
}
