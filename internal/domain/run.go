package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage enumerates pipeline milestones in execution order.
type Stage string

const (
	StageStarted     Stage = "started"
	StageGenerated   Stage = "generated"
	StageSynthesized Stage = "synthesized"
	StageRendered    Stage = "rendered"
	StagePublished   Stage = "published"
	StageFailed      Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageStarted:     0,
	StageGenerated:   1,
	StageSynthesized: 2,
	StageRendered:    3,
	StagePublished:   4,
	StageFailed:      5,
}

// IsKnownStage reports whether the value is a member of the stage enum.
func IsKnownStage(s Stage) bool {
	_, ok := stageOrder[s]
	return ok
}

// Terminal reports whether a run in this stage will never transition again.
func (s Stage) Terminal() bool {
	return s == StagePublished || s == StageFailed
}

// RunRecord is the persisted outcome of one pipeline run. It is created when
// the run starts, advanced by the orchestrator as stages complete, and frozen
// once FinishedAt is set.
type RunRecord struct {
	RunID         string
	ScheduledTime time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	StageReached  Stage
	Theme         string
	ArtifactRef   string
	PublishedID   string
	Error         string
}

// NewRunRecord opens a record for a run triggered at scheduledTime.
func NewRunRecord(scheduledTime, startedAt time.Time) RunRecord {
	return RunRecord{
		RunID:         NewRunID(startedAt),
		ScheduledTime: scheduledTime.UTC(),
		StartedAt:     startedAt.UTC(),
		StageReached:  StageStarted,
	}
}

// NewRunID builds a unique, time-ordered run identifier.
func NewRunID(at time.Time) string {
	return fmt.Sprintf("run-%s-%s", at.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// AdvanceTo moves the record to a later stage. Stages only move forward;
// regressions and transitions out of a terminal stage are rejected.
func (r *RunRecord) AdvanceTo(next Stage) error {
	if !IsKnownStage(next) {
		return fmt.Errorf("unknown stage %q", next)
	}
	if r.StageReached.Terminal() {
		return fmt.Errorf("run %s already terminal at %s", r.RunID, r.StageReached)
	}
	if next != StageFailed && stageOrder[next] <= stageOrder[r.StageReached] {
		return fmt.Errorf("run %s: stage cannot regress %s -> %s", r.RunID, r.StageReached, next)
	}
	r.StageReached = next
	return nil
}

// Finished reports whether the record reached a terminal stage.
func (r RunRecord) Finished() bool {
	return r.StageReached.Terminal()
}

// GenerationTime is the wall time the run consumed, zero until finished.
func (r RunRecord) GenerationTime() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Brief is the content request produced once per run.
type Brief struct {
	Theme       string
	ScriptText  string
	RequestedAt time.Time
}

// MediaBundle holds the raw assets produced from a Brief.
type MediaBundle struct {
	AudioRef  string
	VisualRef string
}

// Artifact is the finished, immutable render output.
type Artifact struct {
	FileRef  string
	Duration time.Duration
	Checksum string
}

// VideoMetadata accompanies an artifact to the hosting platform.
type VideoMetadata struct {
	Title       string
	Description string
	Tags        []string
	Category    string
	Privacy     string
}

// ScheduleState survives restarts and anchors the drift-free firing grid.
type ScheduleState struct {
	NextFireTime       time.Time
	LastCompletedRunID string
}
