package slides

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"talkpip/acquire"
	"talkpip/timeline"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxSlideImageSize = 64 << 20

// FrameGrabber pulls a single still out of a video.
type FrameGrabber interface {
	GrabFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error
}

// Extractor materializes slide sources as image files.
type Extractor struct {
	grabber     FrameGrabber
	client      *http.Client
	concurrency int
}

func NewExtractor(grabber FrameGrabber, client *http.Client, concurrency int) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Extractor{grabber: grabber, client: client, concurrency: concurrency}
}

// Extract writes one image per source into dir and returns the matching
// events in source order. A slide that cannot be fetched is logged and
// left out; the call fails only when nothing could be extracted or ctx ends.
func (e *Extractor) Extract(ctx context.Context, videoPath string, sources []Source, dir string) ([]timeline.Event, error) {
	logger := zerolog.Ctx(ctx)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no slide sources", ErrNoSlides)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slides dir: %w", err)
	}

	images := make([]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, src := range sources {
		dest := filepath.Join(dir, FileName(i, src))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
				images[i] = dest
				return nil
			}
			if err := e.fetch(gctx, videoPath, src, dest); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn().Err(err).
					Stringer("kind", src.Kind).
					Float64("timestamp", src.Timestamp).
					Msg("skipping slide")
				return nil
			}
			images[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := make([]timeline.Event, 0, len(sources))
	for i, img := range images {
		if img != "" {
			events = append(events, timeline.Event{Timestamp: sources[i].Timestamp, Image: img})
		}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: all %d slides failed to extract", ErrNoSlides, len(sources))
	}
	logger.Info().Int("extracted", len(events)).Int("requested", len(sources)).Msg("slides extracted")
	return events, nil
}

func (e *Extractor) fetch(ctx context.Context, videoPath string, src Source, dest string) error {
	switch src.Kind {
	case ExternalImage:
		_, err := acquire.Download(ctx, e.client, src.URL, dest, maxSlideImageSize)
		return err
	case FrameGrab:
		return e.grabber.GrabFrame(ctx, videoPath, src.Timestamp, dest)
	default:
		return fmt.Errorf("unknown slide kind %s", src.Kind)
	}
}

// FileName is <index>_<milliseconds>.<ext>; the index keeps duplicate
// timestamps apart and the listing in source order.
func FileName(i int, src Source) string {
	ext := ".png"
	if src.Kind == ExternalImage {
		if u, err := url.Parse(src.URL); err == nil {
			switch e := strings.ToLower(path.Ext(u.Path)); e {
			case ".jpg", ".jpeg", ".png", ".webp":
				ext = e
			}
		}
	}
	return fmt.Sprintf("%04d_%09d%s", i, int64(math.Round(src.Timestamp*1000)), ext)
}
