package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult represents the parsed output from an ffprobe inspection.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
	NbFrames     string `json:"nb_frames"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Probe executes ffprobe against path and decodes the JSON response.
func (r *Runner) Probe(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, r.ffprobeBin, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ProbeResult{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbe(output)
}

// ParseProbe decodes ffprobe's JSON output.
func ParseProbe(data []byte) (ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoStream returns the first video stream.
func (r ProbeResult) VideoStream() (Stream, bool) {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s, true
		}
	}
	return Stream{}, false
}

// HasAudio reports whether any audio stream is present.
func (r ProbeResult) HasAudio() bool {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "audio") {
			return true
		}
	}
	return false
}

// DurationSeconds prefers the container duration and falls back to the video
// stream's own duration. Returns 0 when neither is known.
func (r ProbeResult) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	if v, ok := r.VideoStream(); ok {
		if d := parseFloat(v.Duration); d > 0 {
			return d
		}
	}
	return 0
}

// FrameRate returns the video stream's average frame rate, falling back to
// r_frame_rate. Returns 0 when unknown.
func (r ProbeResult) FrameRate() float64 {
	v, ok := r.VideoStream()
	if !ok {
		return 0
	}
	if fps := ParseRate(v.AvgFrameRate); fps > 0 {
		return fps
	}
	return ParseRate(v.RFrameRate)
}

// ParseRate parses ffprobe rates such as "30000/1001" or "25".
func ParseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, d := parseFloat(num), parseFloat(den)
		if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
			return 0
		}
		return n / d
	}
	if v := parseFloat(rate); !math.IsNaN(v) {
		return v
	}
	return 0
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
