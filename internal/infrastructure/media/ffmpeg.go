package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"AsmrPipeline/internal/domain"
)

// Options configure the ffmpeg/ffprobe invocations shared by the
// synthesizer and the renderer.
type Options struct {
	FFmpegPath      string
	FFprobePath     string
	WorkDir         string
	ClipDuration    time.Duration
	FrameSize       string
	BackgroundColor string
	StageTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	if o.WorkDir == "" {
		o.WorkDir = "work"
	}
	if o.ClipDuration <= 0 {
		o.ClipDuration = 10 * time.Second
	}
	if o.FrameSize == "" {
		o.FrameSize = "720x1280"
	}
	if o.BackgroundColor == "" {
		o.BackgroundColor = "blue"
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 10 * time.Minute
	}
	return o
}

// runCommand executes a media binary under the stage timeout and classifies
// the failure: a timeout is worth retrying, a non-zero exit is not.
func runCommand(ctx context.Context, timeout time.Duration, bin string, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, domain.Transientf("%s timed out after %s", bin, timeout)
	}
	return output, domain.Permanentf("%s failed: %v: %s", bin, err, tail(output, 512))
}

// tail keeps the last n bytes of process output for error messages.
func tail(output []byte, n int) string {
	text := strings.TrimSpace(string(output))
	if len(text) <= n {
		return text
	}
	return "..." + text[len(text)-n:]
}
