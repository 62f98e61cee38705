package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// FFmpegSynthesizer produces the raw audio and visual assets of a run as
// separate files under the run's work directory.
type FFmpegSynthesizer struct {
	opts   Options
	logger *slog.Logger
}

var _ ports.MediaSynthesizer = (*FFmpegSynthesizer)(nil)

// NewFFmpegSynthesizer binds ffmpeg options.
func NewFFmpegSynthesizer(opts Options, logger *slog.Logger) *FFmpegSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSynthesizer{opts: opts.withDefaults(), logger: logger}
}

// Synthesize renders the ambient audio track and the visual track from the
// brief. Both assets stay on disk for the renderer (and for retries).
func (s *FFmpegSynthesizer) Synthesize(ctx context.Context, runID string, brief domain.Brief) (domain.MediaBundle, error) {
	dir := filepath.Join(s.opts.WorkDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.MediaBundle{}, domain.Permanentf("create run work dir %s: %v", dir, err)
	}

	audioPath := filepath.Join(dir, "audio.wav")
	if _, err := runCommand(ctx, s.opts.StageTimeout, s.opts.FFmpegPath, buildAudioArgs(s.opts, audioPath)); err != nil {
		return domain.MediaBundle{}, fmt.Errorf("synthesize audio: %w", err)
	}

	visualPath := filepath.Join(dir, "visual.mp4")
	if _, err := runCommand(ctx, s.opts.StageTimeout, s.opts.FFmpegPath, buildVisualArgs(s.opts, brief.Theme, visualPath)); err != nil {
		return domain.MediaBundle{}, fmt.Errorf("synthesize visual: %w", err)
	}

	s.logger.Debug("assets synthesized", "run_id", runID, "audio", audioPath, "visual", visualPath)
	return domain.MediaBundle{AudioRef: audioPath, VisualRef: visualPath}, nil
}

// buildAudioArgs produces a soft pink-noise bed for the clip duration.
func buildAudioArgs(opts Options, outPath string) []string {
	seconds := opts.ClipDuration.Seconds()
	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anoisesrc=color=pink:amplitude=0.3:duration=%.0f", seconds),
		"-ar", "44100",
		"-ac", "2",
		outPath,
	}
}

// buildVisualArgs produces the title card video for the clip duration.
func buildVisualArgs(opts Options, theme, outPath string) []string {
	seconds := opts.ClipDuration.Seconds()
	label := fmt.Sprintf("Glass %s ASMR", sanitizeLabel(theme))
	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:size=%s:duration=%.0f", opts.BackgroundColor, opts.FrameSize, seconds),
		"-vf", fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=40:x=(w-text_w)/2:y=(h-text_h)/2", label),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	}
}

// sanitizeLabel strips characters that break the drawtext filter syntax.
func sanitizeLabel(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\'', ':', '\\', '%', ',':
			return -1
		}
		return r
	}, text)
}
