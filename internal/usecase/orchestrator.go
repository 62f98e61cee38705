package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// OrchestratorDeps wires all driven adapters into one pipeline run.
type OrchestratorDeps struct {
	Generator   ports.ContentGenerator
	Synthesizer ports.MediaSynthesizer
	Renderer    ports.Renderer
	Publisher   ports.Publisher
	Runs        ports.RunStore
	Retry       RetryPolicy
	Metadata    MetadataOptions
	Logger      *slog.Logger
	Now         func() time.Time
}

// MetadataOptions are the publish-time settings that do not depend on the brief.
type MetadataOptions struct {
	Tags     []string
	Category string
	Privacy  string
}

// Orchestrator executes one run end-to-end: generate, synthesize, render,
// publish. The run record is persisted after every completed stage, so a
// crash between stages never loses progress information.
type Orchestrator struct {
	generator   ports.ContentGenerator
	synthesizer ports.MediaSynthesizer
	renderer    ports.Renderer
	publisher   ports.Publisher
	runs        ports.RunStore
	retry       RetryPolicy
	metadata    MetadataOptions
	logger      *slog.Logger
	now         func() time.Time

	// mu serializes runs so concurrent trigger attempts cannot put two
	// records in flight.
	mu sync.Mutex
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		generator:   deps.Generator,
		synthesizer: deps.Synthesizer,
		renderer:    deps.Renderer,
		publisher:   deps.Publisher,
		runs:        deps.Runs,
		retry:       deps.Retry,
		metadata:    deps.Metadata,
		logger:      logger,
		now:         now,
	}
}

// RunOnce drives a single pipeline run and always returns the terminal
// record; failures are captured in the record, never raised to the caller.
func (o *Orchestrator) RunOnce(ctx context.Context, scheduledTime time.Time) domain.RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := domain.NewRunRecord(scheduledTime, o.now())
	o.logger.Info("run started", "run_id", rec.RunID, "scheduled_time", rec.ScheduledTime)

	if err := o.runs.SaveRun(ctx, rec); err != nil {
		return o.fail(ctx, rec, fmt.Errorf("open run record: %w", err))
	}

	var brief domain.Brief
	err := o.retry.Do(ctx, "generate", func(ctx context.Context) error {
		var genErr error
		brief, genErr = o.generator.Generate(ctx)
		return genErr
	})
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	rec.Theme = brief.Theme
	if err := o.advance(ctx, &rec, domain.StageGenerated); err != nil {
		return o.fail(ctx, rec, err)
	}

	var bundle domain.MediaBundle
	err = o.retry.Do(ctx, "synthesize", func(ctx context.Context) error {
		var synthErr error
		bundle, synthErr = o.synthesizer.Synthesize(ctx, rec.RunID, brief)
		return synthErr
	})
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	if err := o.advance(ctx, &rec, domain.StageSynthesized); err != nil {
		return o.fail(ctx, rec, err)
	}

	var artifact domain.Artifact
	err = o.retry.Do(ctx, "render", func(ctx context.Context) error {
		var renderErr error
		artifact, renderErr = o.renderer.Render(ctx, rec.RunID, bundle)
		return renderErr
	})
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	rec.ArtifactRef = artifact.FileRef
	if err := o.advance(ctx, &rec, domain.StageRendered); err != nil {
		return o.fail(ctx, rec, err)
	}

	meta := BuildMetadata(brief, o.metadata)

	var publishedID string
	err = o.retry.Do(ctx, "publish", func(ctx context.Context) error {
		var pubErr error
		publishedID, pubErr = o.publisher.Publish(ctx, artifact, meta)
		return pubErr
	})
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	rec.PublishedID = publishedID

	rec.FinishedAt = o.now().UTC()
	if err := rec.AdvanceTo(domain.StagePublished); err != nil {
		return o.fail(ctx, rec, err)
	}
	if err := o.runs.SaveRun(ctx, rec); err != nil {
		o.logger.Error("persist published run", "run_id", rec.RunID, "error", err)
	}

	o.logger.Info("run published",
		"run_id", rec.RunID,
		"theme", rec.Theme,
		"published_id", rec.PublishedID,
		"generation_time", rec.GenerationTime())
	return rec
}

// advance moves the record forward and persists it before the next stage.
func (o *Orchestrator) advance(ctx context.Context, rec *domain.RunRecord, next domain.Stage) error {
	if err := rec.AdvanceTo(next); err != nil {
		return err
	}
	if err := o.runs.SaveRun(ctx, *rec); err != nil {
		return fmt.Errorf("persist stage %s: %w", next, err)
	}
	o.logger.Debug("stage complete", "run_id", rec.RunID, "stage", next)
	return nil
}

// fail closes the record as Failed. Side effects of completed stages (a
// rendered file, synthesized assets) stay on disk; the sweep reclaims them.
//
// A shutdown mid-run is not a failure: the record stays at its last
// completed stage so restart recovery can mark it interrupted.
func (o *Orchestrator) fail(ctx context.Context, rec domain.RunRecord, cause error) domain.RunRecord {
	if ctx.Err() != nil {
		if err := o.runs.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
			o.logger.Error("persist run on shutdown", "run_id", rec.RunID, "error", err)
		}
		o.logger.Warn("run interrupted by shutdown",
			"run_id", rec.RunID,
			"stage_reached", rec.StageReached)
		return rec
	}

	rec.Error = cause.Error()
	rec.FinishedAt = o.now().UTC()
	if err := rec.AdvanceTo(domain.StageFailed); err != nil {
		o.logger.Error("mark run failed", "run_id", rec.RunID, "error", err)
	}
	if err := o.runs.SaveRun(ctx, rec); err != nil {
		o.logger.Error("persist failed run", "run_id", rec.RunID, "error", err)
	}

	o.logger.Error("run failed",
		"run_id", rec.RunID,
		"stage_reached", rec.StageReached,
		"error", rec.Error)
	return rec
}

// BuildMetadata fills the upload metadata from the brief.
func BuildMetadata(brief domain.Brief, opts MetadataOptions) domain.VideoMetadata {
	title := fmt.Sprintf("ASMR Glass %s Cutting & Slicing Sounds", brief.Theme)
	description := fmt.Sprintf(
		"Relaxing ASMR video of cutting a glass %s. Perfect for sleep, study, and relaxation. #ASMR #Glass #Cutting #Relaxing",
		strings.ToLower(brief.Theme))

	tags := opts.Tags
	if len(tags) == 0 {
		tags = []string{"ASMR", "relaxing"}
	}
	privacy := opts.Privacy
	if privacy == "" {
		privacy = "public"
	}

	return domain.VideoMetadata{
		Title:       title,
		Description: description,
		Tags:        tags,
		Category:    opts.Category,
		Privacy:     privacy,
	}
}
