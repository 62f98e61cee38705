package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// FFmpegRenderer muxes the synthesized assets into the finished artifact.
type FFmpegRenderer struct {
	opts   Options
	logger *slog.Logger
}

var _ ports.Renderer = (*FFmpegRenderer)(nil)

// NewFFmpegRenderer binds ffmpeg/ffprobe options.
func NewFFmpegRenderer(opts Options, logger *slog.Logger) *FFmpegRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegRenderer{opts: opts.withDefaults(), logger: logger}
}

// Render muxes the bundle into one mp4 and fingerprints the result. The
// output file is immutable once written; nothing here deletes the inputs.
func (r *FFmpegRenderer) Render(ctx context.Context, runID string, bundle domain.MediaBundle) (domain.Artifact, error) {
	outPath := filepath.Join(r.opts.WorkDir, runID, "final.mp4")

	if _, err := runCommand(ctx, r.opts.StageTimeout, r.opts.FFmpegPath, buildMuxArgs(bundle, outPath)); err != nil {
		return domain.Artifact{}, fmt.Errorf("mux artifact: %w", err)
	}

	duration, err := r.probeDuration(ctx, outPath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("probe artifact: %w", err)
	}

	checksum, err := checksumFile(outPath)
	if err != nil {
		return domain.Artifact{}, domain.Permanentf("checksum artifact: %v", err)
	}

	r.logger.Debug("artifact rendered", "run_id", runID, "file", outPath, "duration", duration)
	return domain.Artifact{
		FileRef:  outPath,
		Duration: duration,
		Checksum: checksum,
	}, nil
}

func (r *FFmpegRenderer) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	output, err := runCommand(ctx, r.opts.StageTimeout, r.opts.FFprobePath, args)
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, domain.Permanentf("parse ffprobe duration %q: %v", strings.TrimSpace(string(output)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// buildMuxArgs combines the visual track with the audio bed.
func buildMuxArgs(bundle domain.MediaBundle, outPath string) []string {
	return []string{
		"-y",
		"-i", bundle.VisualRef,
		"-i", bundle.AudioRef,
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
}

func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
