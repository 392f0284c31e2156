package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"talkpip/composite"
	"talkpip/ffmpeg"
	"talkpip/render"
	"talkpip/slides"
	"talkpip/talk"
	"talkpip/timeline"

	"github.com/rs/zerolog"
)

const fallbackFPS = 25.0

// Stage dependencies. Each is satisfied by the concrete type in its package.
type (
	Acquirer interface {
		Acquire(ctx context.Context, rawURL, dir string) (string, error)
	}
	Prober interface {
		Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
	}
	SlideExtractor interface {
		Extract(ctx context.Context, videoPath string, sources []slides.Source, dir string) ([]timeline.Event, error)
	}
	SlideRenderer interface {
		Render(ctx context.Context, tl timeline.Timeline, target render.Target) (render.FrameSchedule, error)
	}
	Compositor interface {
		Compose(ctx context.Context, spec composite.Spec, output string) (composite.Result, error)
	}
)

// Layout holds the composition choices that do not depend on the talk.
type Layout struct {
	SlidesPrimary   bool
	AudioFromSlides bool
	Scale           float64
	Margin          int
	Border          int
	BorderColor     string
	Corner          composite.Corner
	AllowSilent     bool
}

// Pipeline runs the stages of one talk in order.
type Pipeline struct {
	Acquirer   Acquirer
	Prober     Prober
	Slides     slides.Provider
	Extractor  SlideExtractor
	Renderer   SlideRenderer
	Compositor Compositor
	Timeline   timeline.Options
	RenderFPS  float64
	Layout     Layout
}

func (p *Pipeline) Process(ctx context.Context, t *talk.Talk, tr Tracker) error {
	logger := zerolog.Ctx(ctx)

	if err := tr.Advance(StatusDownloading); err != nil {
		return err
	}
	path, err := p.Acquirer.Acquire(ctx, t.URL, t.Dir)
	if err != nil {
		return &StageError{Stage: StatusDownloading, Err: err}
	}
	t.VideoPath = path
	if err := p.probe(ctx, t); err != nil {
		return &StageError{Stage: StatusDownloading, Err: err}
	}
	logger.Info().
		Float64("duration", t.Duration).
		Float64("fps", t.FrameRate).
		Int("width", t.Width).
		Int("height", t.Height).
		Bool("audio", t.HasAudio).
		Msg("source video probed")

	if err := tr.Advance(StatusExtractingSlides); err != nil {
		return err
	}
	sources, err := p.Slides.Sources(ctx, t.ID, t.Duration)
	if err != nil {
		return &StageError{Stage: StatusExtractingSlides, Err: err}
	}
	events, err := p.Extractor.Extract(ctx, t.VideoPath, sources, t.SlidesDir)
	if err != nil {
		return &StageError{Stage: StatusExtractingSlides, Err: err}
	}

	if err := tr.Advance(StatusBuildingTimeline); err != nil {
		return err
	}
	tl, err := timeline.Build(events, t.Duration, p.Timeline)
	if err != nil {
		return &StageError{Stage: StatusBuildingTimeline, Err: err}
	}
	if err := writeJSON(filepath.Join(t.Dir, "timeline.json"), tl); err != nil {
		logger.Warn().Err(err).Msg("could not save timeline")
	}
	logger.Info().Int("intervals", len(tl.Intervals)).Msg("timeline built")

	if err := tr.Advance(StatusRendering); err != nil {
		return err
	}
	fps := p.RenderFPS
	if fps <= 0 {
		fps = t.FrameRate
	}
	if fps <= 0 {
		fps = fallbackFPS
	}
	sched, err := p.Renderer.Render(ctx, tl, render.Target{FPS: fps, WorkDir: t.Dir, Output: t.SlideVideoPath})
	if err != nil {
		return &StageError{Stage: StatusRendering, Err: err}
	}
	logger.Info().Int("frames", sched.Total).Float64("fps", fps).Msg("slide video rendered")

	if err := tr.Advance(StatusCompositing); err != nil {
		return err
	}
	res, err := p.Compositor.Compose(ctx, p.spec(t), t.OutputPath)
	if err != nil {
		return &StageError{Stage: StatusCompositing, Err: err}
	}
	logger.Info().Str("output", res.Output).Bool("silent", res.Silent).Msg("composite written")
	return nil
}

func (p *Pipeline) probe(ctx context.Context, t *talk.Talk) error {
	res, err := p.Prober.Probe(ctx, t.VideoPath)
	if err != nil {
		return err
	}
	v, ok := res.VideoStream()
	if !ok {
		return errors.New("source has no video stream")
	}
	t.Duration = res.DurationSeconds()
	if !(t.Duration > 0) {
		return fmt.Errorf("source has unknown duration")
	}
	t.FrameRate = res.FrameRate()
	t.Width, t.Height = v.Width, v.Height
	t.HasAudio = res.HasAudio()
	return nil
}

// spec maps the layout onto the talk's two videos.
func (p *Pipeline) spec(t *talk.Talk) composite.Spec {
	s := composite.Spec{
		Primary:     t.VideoPath,
		Secondary:   t.SlideVideoPath,
		Scale:       p.Layout.Scale,
		Margin:      p.Layout.Margin,
		Border:      p.Layout.Border,
		BorderColor: p.Layout.BorderColor,
		Corner:      p.Layout.Corner,
		Audio:       composite.AudioPrimary,
		AllowSilent: p.Layout.AllowSilent,
	}
	if p.Layout.SlidesPrimary {
		s.Primary, s.Secondary = s.Secondary, s.Primary
	}
	if p.Layout.AudioFromSlides != p.Layout.SlidesPrimary {
		s.Audio = composite.AudioSecondary
	}
	return s
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
