package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001", "duration": "1799.965000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"filename": "source.mp4", "duration": "1800.010000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseProbe(t *testing.T) {
	res, err := ParseProbe([]byte(sampleProbe))
	require.NoError(t, err)

	v, ok := res.VideoStream()
	require.True(t, ok)
	assert.Equal(t, 1280, v.Width)
	assert.Equal(t, 720, v.Height)
	assert.True(t, res.HasAudio())
	assert.InDelta(t, 1800.01, res.DurationSeconds(), 1e-9)
	assert.InDelta(t, 29.97, res.FrameRate(), 0.001)
}

func TestProbeFallbacks(t *testing.T) {
	res, err := ParseProbe([]byte(`{"streams":[{"codec_type":"video","avg_frame_rate":"0/0","r_frame_rate":"25/1","duration":"12.5"}],"format":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, res.DurationSeconds())
	assert.Equal(t, 25.0, res.FrameRate())
	assert.False(t, res.HasAudio())

	_, err = ParseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 24.0, ParseRate("24"))
	assert.Equal(t, 0.0, ParseRate("1/0"))
	assert.Equal(t, 0.0, ParseRate("abc"))
	assert.Equal(t, 0.0, ParseRate(""))
}
