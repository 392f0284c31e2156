// Package slides finds the slide change points of a talk and materializes
// one still image per change.
package slides

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// ErrNoSlides means a provider found nothing to work with for a talk.
var ErrNoSlides = errors.New("no slides found")

type Kind int

const (
	// FrameGrab takes the still from the talk's own video at Timestamp.
	FrameGrab Kind = iota
	// ExternalImage downloads the still from URL.
	ExternalImage
)

func (k Kind) String() string {
	switch k {
	case FrameGrab:
		return "frame"
	case ExternalImage:
		return "image"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Source is one slide change: when it happens and where its image comes from.
type Source struct {
	Kind      Kind
	Timestamp float64
	URL       string
}

// Provider lists the slide changes of a talk.
type Provider interface {
	Sources(ctx context.Context, talkID string, duration float64) ([]Source, error)
}

// Interval is the fallback provider: it grabs a frame every Every seconds.
type Interval struct {
	Every float64
}

func (p Interval) Sources(_ context.Context, _ string, duration float64) ([]Source, error) {
	if !(p.Every > 0) {
		return nil, fmt.Errorf("slide interval must be positive, got %g", p.Every)
	}
	if !(duration > 0) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("%w: unknown video duration", ErrNoSlides)
	}
	var out []Source
	for i := 0; float64(i)*p.Every < duration; i++ {
		out = append(out, Source{Kind: FrameGrab, Timestamp: float64(i) * p.Every})
	}
	return out, nil
}

// Fallback asks Primary first and uses Secondary only when Primary reports
// ErrNoSlides.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func (f Fallback) Sources(ctx context.Context, talkID string, duration float64) ([]Source, error) {
	srcs, err := f.Primary.Sources(ctx, talkID, duration)
	if err == nil || !errors.Is(err, ErrNoSlides) || f.Secondary == nil {
		return srcs, err
	}
	zerolog.Ctx(ctx).Warn().Err(err).Msg("falling back to interval frame grabs")
	return f.Secondary.Sources(ctx, talkID, duration)
}
