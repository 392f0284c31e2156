// Package composite overlays the rendered slide video on the speaker video.
// It computes layout and hands a filter graph to the media engine; it never
// touches pixels itself.
package composite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"talkpip/ffmpeg"

	"github.com/rs/zerolog"
)

var (
	ErrDurationMismatch = errors.New("duration mismatch")
	ErrComposition      = errors.New("composition failed")
)

// DurationMismatchError reports two inputs whose lengths differ by more than
// the tolerance. It usually means the slide timeline was reconciled wrongly.
type DurationMismatchError struct {
	Primary   float64
	Secondary float64
	Tolerance float64
}

func (e *DurationMismatchError) Error() string {
	return fmt.Sprintf("%s: primary %.3fs vs secondary %.3fs (tolerance %.3fs)", ErrDurationMismatch, e.Primary, e.Secondary, e.Tolerance)
}

func (e *DurationMismatchError) Unwrap() error { return ErrDurationMismatch }

// CompositionError wraps an engine or layout failure with the engine's
// diagnostic output.
type CompositionError struct {
	Op         string
	Err        error
	Diagnostic string
}

func (e *CompositionError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", ErrComposition, e.Op, e.Err)
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *CompositionError) Unwrap() []error { return []error{ErrComposition, e.Err} }

type AudioSource int

const (
	AudioPrimary AudioSource = iota
	AudioSecondary
)

// Spec describes a picture-in-picture output.
type Spec struct {
	Primary     string
	Secondary   string
	Scale       float64
	Margin      int
	Border      int
	BorderColor string
	Corner      Corner
	Audio       AudioSource
	AllowSilent bool
}

// Engine is the subset of the media engine the compositor needs.
type Engine interface {
	Run(ctx context.Context, args []string, outputPath string) (string, error)
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
}

type Compositor struct {
	eng             Engine
	toleranceFrames float64
	encodeArgs      []string
}

func New(eng Engine, toleranceFrames float64, encodeArgs []string) *Compositor {
	return &Compositor{eng: eng, toleranceFrames: toleranceFrames, encodeArgs: encodeArgs}
}

// Result summarizes a finished composition.
type Result struct {
	Output    string
	Placement Placement
	Duration  float64
	Silent    bool
}

// Compose validates both inputs and writes the composite to output.
func (c *Compositor) Compose(ctx context.Context, spec Spec, output string) (Result, error) {
	logger := zerolog.Ctx(ctx)

	if spec.Primary == "" || spec.Secondary == "" {
		return Result{}, &CompositionError{Op: "validate", Err: errors.New("both inputs are required")}
	}
	if spec.Border > 0 && !colorPattern.MatchString(spec.BorderColor) {
		return Result{}, &CompositionError{Op: "validate", Err: fmt.Errorf("invalid border colour %q", spec.BorderColor)}
	}

	primary, err := c.eng.Probe(ctx, spec.Primary)
	if err != nil {
		return Result{}, &CompositionError{Op: "probe primary", Err: err}
	}
	secondary, err := c.eng.Probe(ctx, spec.Secondary)
	if err != nil {
		return Result{}, &CompositionError{Op: "probe secondary", Err: err}
	}

	pd, sd := primary.DurationSeconds(), secondary.DurationSeconds()
	if err := CheckDurations(pd, sd, Tolerance(c.toleranceFrames, primary.FrameRate(), secondary.FrameRate())); err != nil {
		return Result{}, err
	}

	pv, ok := primary.VideoStream()
	if !ok {
		return Result{}, &CompositionError{Op: "probe primary", Err: errors.New("no video stream")}
	}
	sv, ok := secondary.VideoStream()
	if !ok {
		return Result{}, &CompositionError{Op: "probe secondary", Err: errors.New("no video stream")}
	}

	place, err := Layout(pv.Width, pv.Height, sv.Width, sv.Height, spec)
	if err != nil {
		return Result{}, &CompositionError{Op: "layout", Err: err}
	}

	audioInput := -1
	switch {
	case spec.Audio == AudioPrimary && primary.HasAudio():
		audioInput = 0
	case spec.Audio == AudioSecondary && secondary.HasAudio():
		audioInput = 1
	case !spec.AllowSilent:
		return Result{}, &CompositionError{Op: "select audio", Err: errors.New("designated audio source has no audio stream")}
	}

	args := Args(spec, place, audioInput, c.encodeArgs)
	logger.Info().
		Int("inset_w", place.W).
		Int("inset_h", place.H).
		Int("x", place.X).
		Int("y", place.Y).
		Int("audio_input", audioInput).
		Float64("duration", pd).
		Msg("compositing picture-in-picture")

	out, err := c.eng.Run(ctx, args, output)
	if err != nil {
		return Result{}, &CompositionError{Op: "encode", Err: err, Diagnostic: ffmpeg.Tail(out, 20)}
	}
	return Result{Output: output, Placement: place, Duration: pd, Silent: audioInput < 0}, nil
}

// Tolerance converts a frame count into seconds using the coarser of the two
// frame rates. Unknown rates fall back to 25 fps.
func Tolerance(frames, fpsA, fpsB float64) float64 {
	fps := math.Min(positiveOr(fpsA, 25), positiveOr(fpsB, 25))
	return frames / fps
}

// CheckDurations fails when the two durations differ by more than tolerance.
func CheckDurations(primary, secondary, tolerance float64) error {
	if primary <= 0 || secondary <= 0 || math.Abs(primary-secondary) > tolerance+1e-9 {
		return &DurationMismatchError{Primary: primary, Secondary: secondary, Tolerance: tolerance}
	}
	return nil
}

// Args builds the engine arguments. audioInput is 0 or 1 for the input that
// supplies sound, or -1 for a silent output.
func Args(spec Spec, p Placement, audioInput int, encodeArgs []string) []string {
	args := []string{
		"-loglevel", "warning",
		"-i", spec.Primary,
		"-i", spec.Secondary,
		"-filter_complex", Filter(p, spec.Border, spec.BorderColor),
		"-map", "[v]",
	}
	if audioInput >= 0 {
		args = append(args, "-map", strconv.Itoa(audioInput)+":a:0")
	} else {
		args = append(args, "-an")
	}
	args = append(args, encodeArgs...)
	if audioInput >= 0 {
		args = append(args, "-c:a", "aac", "-b:a", "160k")
	}
	return append(args, "-movflags", "+faststart")
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
		return v
	}
	return fallback
}
