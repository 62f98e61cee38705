package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"AsmrPipeline/internal/ports"
)

// Sweeper reclaims intermediate artifacts left behind by finished runs and
// trims run history to the retention cap. The pipeline itself never deletes
// anything; the sweep runs independently and is safe to repeat.
type Sweeper struct {
	runs    ports.RunStore
	workDir string
	maxRuns int
	logger  *slog.Logger
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	RemovedDirs []string
	KeptDirs    []string
	PrunedRuns  int
}

// NewSweeper builds a sweeper over the pipeline work directory.
func NewSweeper(runs ports.RunStore, workDir string, maxRuns int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		runs:    runs,
		workDir: workDir,
		maxRuns: maxRuns,
		logger:  logger,
	}
}

// Sweep removes work-dir entries belonging to terminal runs and prunes the
// run log. Entries for in-flight runs and entries the sweep does not
// recognize are kept.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("read work dir %s: %w", s.workDir, err)
	}

	active, err := s.runs.NonTerminalRuns(ctx)
	if err != nil {
		return report, fmt.Errorf("load in-flight runs: %w", err)
	}
	inFlight := make(map[string]bool, len(active))
	for _, rec := range active {
		inFlight[rec.RunID] = true
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "run-") {
			report.KeptDirs = append(report.KeptDirs, entry.Name())
			continue
		}
		if inFlight[entry.Name()] {
			report.KeptDirs = append(report.KeptDirs, entry.Name())
			continue
		}

		path := filepath.Join(s.workDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Error("remove run work dir", "path", path, "error", err)
			report.KeptDirs = append(report.KeptDirs, entry.Name())
			continue
		}
		report.RemovedDirs = append(report.RemovedDirs, entry.Name())
	}

	pruned, err := s.runs.PruneRuns(ctx, s.maxRuns)
	if err != nil {
		return report, fmt.Errorf("prune run history: %w", err)
	}
	report.PrunedRuns = pruned

	if len(report.RemovedDirs) > 0 || report.PrunedRuns > 0 {
		s.logger.Info("sweep complete",
			"removed_dirs", len(report.RemovedDirs),
			"pruned_runs", report.PrunedRuns)
	}

	return report, nil
}
