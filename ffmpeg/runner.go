package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"talkpip/config"

	"github.com/rs/zerolog"
)

// Runner drives the ffmpeg and ffprobe binaries. It is safe for concurrent use;
// each call owns its own process and output file.
type Runner struct {
	cfg        *config.Config
	ffBin      string
	ffprobeBin string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	// Ensure both binaries are executable
	ffBin, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	ffprobeBin, err := exec.LookPath(cfg.FFProbeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	return &Runner{
		cfg:        cfg,
		ffBin:      ffBin,
		ffprobeBin: ffprobeBin,
	}, nil
}

// Run executes ffmpeg with args followed by outputPath. ffmpeg writes to a
// hidden sibling of outputPath which is renamed into place only on success,
// so an aborted run never leaves a truncated output behind.
// It returns the combined stdout/stderr and an error.
func (r *Runner) Run(ctx context.Context, args []string, outputPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("could not create output directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.FFTimeout)
	defer cancel()

	partial := PartialPath(outputPath)
	full := make([]string, 0, len(args)+6)
	full = append(full, "-hide_banner", "-nostdin", "-y")
	full = append(full, args...)
	full = append(full, partial) // FFMpeg's last argument is the output file

	cmd := exec.CommandContext(runCtx, r.ffBin, full...)
	cmd.WaitDelay = 10 * time.Second
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	zerolog.Ctx(ctx).Debug().
		Str("bin", cmd.Path).
		Str("args", strings.Join(cmd.Args[1:], " ")).
		Msg("executing ffmpeg")

	err := cmd.Run()
	outputLog := outputBuf.String()

	if err != nil {
		// If the command failed, clean up the (likely empty or partial) output file.
		os.Remove(partial)
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return outputLog, fmt.Errorf("ffmpeg execution aborted: %w", ctxErr)
		}
		return outputLog, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	if err := os.Rename(partial, outputPath); err != nil {
		os.Remove(partial)
		return outputLog, fmt.Errorf("could not move output into place: %w", err)
	}
	return outputLog, nil
}

// GrabFrame writes the frame shown at timestamp seconds into outputPath.
func (r *Runner) GrabFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error {
	out, err := r.Run(ctx, GrabArgs(videoPath, timestamp), outputPath)
	if err != nil {
		return fmt.Errorf("grab frame at %.3fs: %w: %s", timestamp, err, Tail(out, 10))
	}
	return nil
}

// GrabArgs builds the arguments for a single-frame grab. Seeking before -i
// keeps the grab fast on long recordings.
func GrabArgs(videoPath string, timestamp float64) []string {
	return []string{
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-update", "1",
	}
}

// PartialPath returns the temporary name ffmpeg writes to before the output
// is moved into place. The extension is preserved so ffmpeg can infer the
// container.
func PartialPath(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

// Tail returns the last n non-empty lines of an engine log.
func Tail(log string, n int) string {
	lines := strings.Split(strings.TrimSpace(log), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
