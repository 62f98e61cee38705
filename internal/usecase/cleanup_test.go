package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AsmrPipeline/internal/domain"
)

func makeRunDir(t *testing.T, workDir, runID string) string {
	t.Helper()
	dir := filepath.Join(workDir, runID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "final.mp4"), []byte("x"), 0o644))
	return dir
}

func TestSweepRemovesTerminalRunDirs(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	store := newMemStore()
	now := time.Now()

	done := domain.NewRunRecord(now, now)
	require.NoError(t, done.AdvanceTo(domain.StageFailed))
	done.FinishedAt = now
	require.NoError(t, store.SaveRun(context.Background(), done))
	doneDir := makeRunDir(t, workDir, done.RunID)

	active := domain.NewRunRecord(now, now.Add(time.Second))
	require.NoError(t, store.SaveRun(context.Background(), active))
	activeDir := makeRunDir(t, workDir, active.RunID)

	// A directory the sweep does not recognize stays untouched.
	foreignDir := filepath.Join(workDir, "keep-me")
	require.NoError(t, os.MkdirAll(foreignDir, 0o755))

	sweeper := NewSweeper(store, workDir, 20, nil)
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{done.RunID}, report.RemovedDirs)
	assert.NoDirExists(t, doneDir)
	assert.DirExists(t, activeDir, "in-flight run assets survive the sweep")
	assert.DirExists(t, foreignDir)
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	store := newMemStore()
	now := time.Now()

	done := domain.NewRunRecord(now, now)
	require.NoError(t, done.AdvanceTo(domain.StageFailed))
	done.FinishedAt = now
	require.NoError(t, store.SaveRun(context.Background(), done))
	makeRunDir(t, workDir, done.RunID)

	sweeper := NewSweeper(store, workDir, 20, nil)

	first, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.RemovedDirs, 1)

	second, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.RemovedDirs, "second pass has nothing left to do")
}

func TestSweepPrunesRunHistory(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		rec := domain.NewRunRecord(now, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, rec.AdvanceTo(domain.StagePublished))
		rec.FinishedAt = now
		require.NoError(t, store.SaveRun(context.Background(), rec))
	}

	sweeper := NewSweeper(store, t.TempDir(), 2, nil)
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.PrunedRuns)
	assert.Len(t, store.records(), 2)
}

func TestSweepMissingWorkDirIsNoop(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(newMemStore(), filepath.Join(t.TempDir(), "never-created"), 20, nil)
	report, err := sweeper.Sweep(context.Background())

	require.NoError(t, err)
	assert.Empty(t, report.RemovedDirs)
}
