// Package render materializes a slide timeline into a slide-only video.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"talkpip/ffmpeg"
	"talkpip/timeline"

	"github.com/rs/zerolog"
)

var ErrRender = errors.New("render failed")

// Error describes a failed render step. It matches ErrRender.
type Error struct {
	Op         string
	Image      string
	Err        error
	Diagnostic string
}

func (e *Error) Error() string {
	msg := ErrRender.Error() + ": " + e.Op
	if e.Image != "" {
		msg += " " + e.Image
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *Error) Unwrap() []error { return []error{ErrRender, e.Err} }

// Encoder is the media engine call the renderer hands its frame list to.
type Encoder interface {
	Run(ctx context.Context, args []string, outputPath string) (string, error)
}

type Renderer struct {
	enc        Encoder
	width      int
	height     int
	encodeArgs []string
}

// New returns a renderer producing width×height video. Odd dimensions are
// rounded down because yuv420p needs even sizes.
func New(enc Encoder, width, height int, encodeArgs []string) *Renderer {
	return &Renderer{
		enc:        enc,
		width:      width &^ 1,
		height:     height &^ 1,
		encodeArgs: encodeArgs,
	}
}

// Target describes one render request.
type Target struct {
	FPS     float64
	WorkDir string // letterboxed frames and the concat list go here
	Output  string
}

// Render letterboxes each distinct slide once, writes an ffconcat list that
// holds every slide for its scheduled frame count, and issues one encode.
func (r *Renderer) Render(ctx context.Context, tl timeline.Timeline, target Target) (FrameSchedule, error) {
	logger := zerolog.Ctx(ctx)

	sched, err := Schedule(tl, target.FPS)
	if err != nil {
		return FrameSchedule{}, &Error{Op: "schedule", Err: err}
	}

	framesDir := filepath.Join(target.WorkDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return FrameSchedule{}, &Error{Op: "create frames dir", Err: err}
	}

	prepared := make(map[string]string)
	entries := make([]concatEntry, 0, len(tl.Intervals))
	for i, iv := range tl.Intervals {
		if sched.Frames[i] == 0 {
			continue
		}
		frame, ok := prepared[iv.Image]
		if !ok {
			frame, err = r.prepare(iv.Image, filepath.Join(framesDir, fmt.Sprintf("slide_%04d.png", len(prepared))))
			if err != nil {
				return FrameSchedule{}, err
			}
			prepared[iv.Image] = frame
		}
		entries = append(entries, concatEntry{path: frame, seconds: sched.Seconds(i)})
	}

	listPath := filepath.Join(target.WorkDir, "slides.ffconcat")
	if err := writeConcat(listPath, entries); err != nil {
		return FrameSchedule{}, &Error{Op: "write concat list", Err: err}
	}

	logger.Info().
		Int("intervals", len(tl.Intervals)).
		Int("distinct_slides", len(prepared)).
		Int("frames", sched.Total).
		Float64("fps", sched.FPS).
		Msg("rendering slide video")

	out, err := r.enc.Run(ctx, Args(listPath, sched.FPS, sched.Total, r.encodeArgs), target.Output)
	if err != nil {
		return FrameSchedule{}, &Error{Op: "encode", Err: err, Diagnostic: ffmpeg.Tail(out, 20)}
	}
	return sched, nil
}

func (r *Renderer) prepare(src, dst string) (string, error) {
	img, err := LoadImage(src)
	if err != nil {
		return "", &Error{Op: "load", Image: src, Err: err}
	}
	if err := WritePNG(dst, Letterbox(img, r.width, r.height)); err != nil {
		return "", &Error{Op: "write letterboxed frame", Image: src, Err: err}
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", &Error{Op: "resolve frame path", Image: src, Err: err}
	}
	return abs, nil
}

// Args builds the encode arguments for a concat list of still frames.
func Args(listPath string, fps float64, totalFrames int, encodeArgs []string) []string {
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{
		"-loglevel", "warning",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", "fps=" + rate + ",format=yuv420p",
		"-frames:v", strconv.Itoa(totalFrames),
		"-an",
	}
	args = append(args, encodeArgs...)
	return append(args, "-movflags", "+faststart")
}

type concatEntry struct {
	path    string
	seconds float64
}

// writeConcat writes an ffconcat list. The last file is listed twice because
// the concat demuxer ignores the duration of the final entry otherwise.
func writeConcat(path string, entries []concatEntry) error {
	if len(entries) == 0 {
		return errors.New("no frames scheduled")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "ffconcat version 1.0")
	for _, e := range entries {
		fmt.Fprintf(w, "file %s\nduration %s\n", quoteConcat(e.path), strconv.FormatFloat(e.seconds, 'f', 6, 64))
	}
	fmt.Fprintf(w, "file %s\n", quoteConcat(entries[len(entries)-1].path))
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func quoteConcat(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
