package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"talkpip/ffmpeg"

	"github.com/rs/zerolog"
)

// Command hands page URLs to an external downloader such as yt-dlp.
type Command struct {
	bin string
}

func NewCommand(bin string) (*Command, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("downloader binary not found at '%s': %w", bin, err)
	}
	return &Command{bin: path}, nil
}

// Args is the downloader invocation for rawURL writing source.<ext> into dir.
func (c *Command) Args(rawURL, dir string) []string {
	return []string{
		"--no-progress",
		"--no-playlist",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(dir, "source.%(ext)s"),
		"--", rawURL,
	}
}

func (c *Command) Acquire(ctx context.Context, rawURL, dir string) (string, error) {
	logger := zerolog.Ctx(ctx)
	if existing, ok := findSource(dir); ok {
		logger.Info().Str("path", existing).Msg("source video already present, skipping download")
		return existing, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &DownloadError{URL: rawURL, Attempts: 1, Err: err}
	}

	cmd := exec.CommandContext(ctx, c.bin, c.Args(rawURL, dir)...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	logger.Debug().Str("cmd", cmd.String()).Msg("running downloader")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &DownloadError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("%s: %w\n%s", filepath.Base(c.bin), err, ffmpeg.Tail(outputBuf.String(), 10))}
	}

	path, ok := findSource(dir)
	if !ok {
		return "", &DownloadError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("%w: downloader finished but wrote no source file", errPermanent)}
	}
	logger.Info().Str("path", path).Msg("downloaded source video")
	return path, nil
}

// findSource returns a completed source.* file in dir, ignoring the
// downloader's in-progress fragments.
func findSource(dir string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(dir, "source.*"))
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.Count(base, ".") != 1 || !mediaExts[filepath.Ext(base)] {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return m, true
		}
	}
	return "", false
}
