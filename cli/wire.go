package cli

import (
	"fmt"
	"net/http"
	"strings"

	"talkpip/acquire"
	"talkpip/composite"
	"talkpip/config"
	"talkpip/ffmpeg"
	"talkpip/render"
	"talkpip/slides"
	"talkpip/task"
	"talkpip/timeline"

	"github.com/rs/zerolog/log"
)

// newManager builds the full media stack from cfg.
func newManager(cfg *config.Config) (*task.Manager, error) {
	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}
	pipeline, err := newPipeline(cfg, runner, &http.Client{})
	if err != nil {
		return nil, err
	}
	return task.NewManager(cfg, pipeline, ffmpeg.NewGate(cfg))
}

func newPipeline(cfg *config.Config, runner *ffmpeg.Runner, client *http.Client) (*task.Pipeline, error) {
	encodeArgs, err := ffmpeg.ParseEncodeArgs(cfg.EncodeArgs)
	if err != nil {
		return nil, err
	}
	tieBreak, err := timeline.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return nil, fmt.Errorf("TIE_BREAK: %w", err)
	}
	corner, err := composite.ParseCorner(cfg.PipCorner)
	if err != nil {
		return nil, fmt.Errorf("PIP_CORNER: %w", err)
	}

	var page acquire.Acquirer
	if dl, err := acquire.NewCommand(cfg.DownloaderBin); err == nil {
		page = dl
	} else {
		log.Warn().Err(err).Msg("page URLs will be fetched directly")
	}
	acq := &acquire.Retry{
		Next:    &acquire.Auto{Direct: acquire.NewHTTP(client, cfg.MaxInputSize), Page: page},
		Retries: cfg.DownloadRetries,
		Backoff: cfg.DownloadBackoff,
	}

	var provider slides.Provider = slides.Interval{Every: cfg.SlideInterval}
	if cfg.SlidesManifestURL != "" {
		provider = slides.Fallback{
			Primary:   slides.NewManifest(client, cfg.SlidesManifestURL, cfg.SlidesImageURL),
			Secondary: provider,
		}
	}

	return &task.Pipeline{
		Acquirer:   acq,
		Prober:     runner,
		Slides:     provider,
		Extractor:  slides.NewExtractor(runner, client, cfg.SlideFetchConcurrency),
		Renderer:   render.New(runner, cfg.SlideWidth, cfg.SlideHeight, encodeArgs),
		Compositor: composite.New(runner, cfg.DurationToleranceFrames, encodeArgs),
		Timeline:   timeline.Options{TieBreak: tieBreak},
		RenderFPS:  cfg.RenderFPS,
		Layout: task.Layout{
			SlidesPrimary:   strings.EqualFold(cfg.PipPrimary, "slides"),
			AudioFromSlides: strings.EqualFold(cfg.AudioFrom, "slides"),
			Scale:           cfg.PipScale,
			Margin:          cfg.PipMargin,
			Border:          cfg.PipBorder,
			BorderColor:     cfg.PipBorderColor,
			Corner:          corner,
			AllowSilent:     cfg.AllowSilent,
		},
	}, nil
}
