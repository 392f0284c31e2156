package composite

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var ErrLayout = errors.New("inset does not fit inside the primary frame")

type Corner string

const (
	BottomRight Corner = "bottom-right"
	BottomLeft  Corner = "bottom-left"
	TopRight    Corner = "top-right"
	TopLeft     Corner = "top-left"
)

// ParseCorner accepts the four corner names, case-insensitively.
func ParseCorner(s string) (Corner, error) {
	switch c := Corner(strings.ToLower(strings.TrimSpace(s))); c {
	case BottomRight, BottomLeft, TopRight, TopLeft:
		return c, nil
	case "":
		return BottomRight, nil
	default:
		return "", fmt.Errorf("unknown corner %q", s)
	}
}

// Placement is the computed position of the inset inside the primary frame.
// (X, Y, W, H) is the scaled secondary video; the Box fields include the
// border around it.
type Placement struct {
	X, Y, W, H             int
	BoxX, BoxY, BoxW, BoxH int
}

var colorPattern = regexp.MustCompile(`^(#|0x)?[0-9A-Za-z]+(@[0-9.]+)?$`)

// Layout sizes the secondary to scale × primary width, keeps its aspect
// ratio, and places it with its border box margin pixels from the chosen
// corner. It fails with ErrLayout when the box would leave the frame.
func Layout(primaryW, primaryH, secondaryW, secondaryH int, spec Spec) (Placement, error) {
	if primaryW <= 0 || primaryH <= 0 || secondaryW <= 0 || secondaryH <= 0 {
		return Placement{}, fmt.Errorf("%w: unknown dimensions %dx%d / %dx%d", ErrLayout, primaryW, primaryH, secondaryW, secondaryH)
	}
	if !(spec.Scale > 0 && spec.Scale <= 1) {
		return Placement{}, fmt.Errorf("%w: scale %g outside (0, 1]", ErrLayout, spec.Scale)
	}
	if spec.Margin < 0 || spec.Border < 0 {
		return Placement{}, fmt.Errorf("%w: negative margin or border", ErrLayout)
	}

	w := even(int(math.Round(spec.Scale * float64(primaryW))))
	h := even(int(math.Round(float64(secondaryH) * float64(w) / float64(secondaryW))))
	if w < 2 || h < 2 {
		return Placement{}, fmt.Errorf("%w: inset collapses to %dx%d", ErrLayout, w, h)
	}

	p := Placement{W: w, H: h, BoxW: w + 2*spec.Border, BoxH: h + 2*spec.Border}
	if p.BoxW+spec.Margin > primaryW || p.BoxH+spec.Margin > primaryH {
		return Placement{}, fmt.Errorf("%w: %dx%d box with %dpx margin in %dx%d frame", ErrLayout, p.BoxW, p.BoxH, spec.Margin, primaryW, primaryH)
	}

	switch spec.Corner {
	case TopLeft:
		p.BoxX, p.BoxY = spec.Margin, spec.Margin
	case TopRight:
		p.BoxX, p.BoxY = primaryW-spec.Margin-p.BoxW, spec.Margin
	case BottomLeft:
		p.BoxX, p.BoxY = spec.Margin, primaryH-spec.Margin-p.BoxH
	default:
		p.BoxX, p.BoxY = primaryW-spec.Margin-p.BoxW, primaryH-spec.Margin-p.BoxH
	}
	p.X, p.Y = p.BoxX+spec.Border, p.BoxY+spec.Border
	return p, nil
}

// Filter returns the filter_complex graph overlaying input 1 onto input 0.
// The result is labelled [v].
func Filter(p Placement, border int, borderColor string) string {
	inset := fmt.Sprintf("[1:v]scale=%d:%d,setsar=1", p.W, p.H)
	if border > 0 {
		inset += fmt.Sprintf(",pad=%d:%d:%d:%d:color=%s", p.BoxW, p.BoxH, border, border, borderColor)
	}
	return fmt.Sprintf("%s[inset];[0:v][inset]overlay=%d:%d:eof_action=pass,format=yuv420p[v]", inset, p.BoxX, p.BoxY)
}

func even(n int) int { return n &^ 1 }
