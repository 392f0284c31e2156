package render

import (
	"fmt"
	"math"

	"talkpip/timeline"
)

// FrameSchedule says how many output frames each timeline interval occupies.
type FrameSchedule struct {
	FPS    float64
	Frames []int
	Total  int
}

// Schedule rounds every interval to whole frames and lets the final interval
// absorb the remainder, so Total is exactly round(duration × fps) no matter
// how many intervals there are. When a run of sub-frame intervals rounds up
// far enough to push the final count below zero, it falls back to rounding
// interval boundaries instead, which telescopes to the same Total.
func Schedule(tl timeline.Timeline, fps float64) (FrameSchedule, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return FrameSchedule{}, fmt.Errorf("frame rate %g is not positive", fps)
	}
	n := len(tl.Intervals)
	if n == 0 {
		return FrameSchedule{}, fmt.Errorf("timeline has no intervals")
	}

	total := int(math.Round(tl.Duration() * fps))
	frames := make([]int, n)
	sum := 0
	for i, iv := range tl.Intervals[:n-1] {
		frames[i] = int(math.Round(iv.Length() * fps))
		sum += frames[i]
	}
	frames[n-1] = total - sum

	if frames[n-1] < 0 {
		prev := 0
		for i, iv := range tl.Intervals {
			edge := int(math.Round(iv.End * fps))
			if i == n-1 {
				edge = total
			}
			frames[i] = edge - prev
			prev = edge
		}
	}

	return FrameSchedule{FPS: fps, Frames: frames, Total: total}, nil
}

// Seconds returns the display time of interval i in the rendered video.
func (s FrameSchedule) Seconds(i int) float64 {
	return float64(s.Frames[i]) / s.FPS
}
