package ports

import (
	"context"
	"time"

	"AsmrPipeline/internal/domain"
)

// ContentGenerator produces the brief for one run.
type ContentGenerator interface {
	Generate(ctx context.Context) (domain.Brief, error)
}

// MediaSynthesizer turns a brief into raw audio and visual assets.
type MediaSynthesizer interface {
	Synthesize(ctx context.Context, runID string, brief domain.Brief) (domain.MediaBundle, error)
}

// Renderer muxes a media bundle into one finished artifact.
type Renderer interface {
	Render(ctx context.Context, runID string, bundle domain.MediaBundle) (domain.Artifact, error)
}

// Publisher uploads a finished artifact and returns the published identifier.
type Publisher interface {
	Publish(ctx context.Context, artifact domain.Artifact, meta domain.VideoMetadata) (string, error)
}

// RunStore is the append-only run log, keyed by run id.
type RunStore interface {
	SaveRun(ctx context.Context, rec domain.RunRecord) error
	Run(ctx context.Context, runID string) (domain.RunRecord, error)
	// NonTerminalRuns lists records that never reached Published or Failed.
	NonTerminalRuns(ctx context.Context) ([]domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	// RecentThemes returns themes of the most recent runs, newest first.
	RecentThemes(ctx context.Context, limit int) ([]string, error)
	// PruneRuns deletes terminal records beyond the newest keep entries.
	PruneRuns(ctx context.Context, keep int) (int, error)
}

// StateStore persists the schedule state across restarts.
type StateStore interface {
	LoadState(ctx context.Context) (domain.ScheduleState, bool, error)
	SaveState(ctx context.Context, state domain.ScheduleState) error
}

// TriggerFunc executes one pipeline run for the given grid slot.
type TriggerFunc func(ctx context.Context, scheduledTime time.Time) domain.RunRecord
