package slides

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGrabber is a mock implementation of the FrameGrabber interface for testing.
type mockGrabber struct {
	mu      sync.Mutex
	grabbed []float64
	failAt  map[float64]bool
}

func (m *mockGrabber) GrabFrame(_ context.Context, _ string, ts float64, out string) error {
	m.mu.Lock()
	m.grabbed = append(m.grabbed, ts)
	m.mu.Unlock()
	if m.failAt[ts] {
		return fmt.Errorf("grab frame at %.3fs: exit status 1", ts)
	}
	return os.WriteFile(out, []byte("png"), 0o644)
}

const sampleManifest = `{
  "slides": [
    {"time": 12500, "type": "image", "image": {"name": "00003"}},
    {"time": 0, "type": "image", "image": {"name": "00001"}},
    {"time": 5000, "type": "video", "video": {"id": "abc"}},
    {"time": 12500, "type": "image", "image": {"name": "00004"}}
  ]
}`

func TestManifest_Parse(t *testing.T) {
	m := NewManifest(nil, "", "https://img.example/{id}/{name}.png")
	srcs, err := m.Parse([]byte(sampleManifest), "38922884")
	require.NoError(t, err)

	require.Len(t, srcs, 4)
	assert.Equal(t, Source{Kind: ExternalImage, Timestamp: 0, URL: "https://img.example/38922884/00001.png"}, srcs[0])
	assert.Equal(t, Source{Kind: FrameGrab, Timestamp: 5}, srcs[1])
	// Equal timestamps keep manifest order.
	assert.Equal(t, "https://img.example/38922884/00003.png", srcs[2].URL)
	assert.Equal(t, "https://img.example/38922884/00004.png", srcs[3].URL)
	assert.Equal(t, 12.5, srcs[3].Timestamp)
}

func TestManifest_ParseErrors(t *testing.T) {
	m := NewManifest(nil, "", "")
	_, err := m.Parse([]byte(`{"slides": []}`), "x")
	assert.True(t, errors.Is(err, ErrNoSlides))

	_, err = m.Parse([]byte(`not json`), "x")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoSlides))
}

func TestManifest_Sources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/38922884/v3/slides.json":
			w.Write([]byte(sampleManifest))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewManifest(srv.Client(), srv.URL+"/{id}/v3/slides.json", srv.URL+"/{id}/slides/{name}.png")
	srcs, err := m.Sources(context.Background(), "38922884", 60)
	require.NoError(t, err)
	assert.Len(t, srcs, 4)

	_, err = m.Sources(context.Background(), "unknown", 60)
	assert.True(t, errors.Is(err, ErrNoSlides))
}

func TestInterval(t *testing.T) {
	srcs, err := Interval{Every: 30}.Sources(context.Background(), "x", 75)
	require.NoError(t, err)
	require.Len(t, srcs, 3)
	assert.Equal(t, []float64{0, 30, 60}, []float64{srcs[0].Timestamp, srcs[1].Timestamp, srcs[2].Timestamp})
	for _, s := range srcs {
		assert.Equal(t, FrameGrab, s.Kind)
	}

	_, err = Interval{Every: 30}.Sources(context.Background(), "x", 0)
	assert.True(t, errors.Is(err, ErrNoSlides))
	_, err = Interval{}.Sources(context.Background(), "x", 10)
	assert.Error(t, err)
}

type staticProvider struct {
	srcs []Source
	err  error
}

func (p staticProvider) Sources(context.Context, string, float64) ([]Source, error) {
	return p.srcs, p.err
}

func TestFallback(t *testing.T) {
	secondary := staticProvider{srcs: []Source{{Kind: FrameGrab}}}

	srcs, err := Fallback{Primary: staticProvider{err: fmt.Errorf("%w: 404", ErrNoSlides)}, Secondary: secondary}.
		Sources(context.Background(), "x", 10)
	require.NoError(t, err)
	assert.Len(t, srcs, 1)

	_, err = Fallback{Primary: staticProvider{err: errors.New("connection refused")}, Secondary: secondary}.
		Sources(context.Background(), "x", 10)
	assert.EqualError(t, err, "connection refused")
}

func TestExtractor_MixedSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image:" + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	grabber := &mockGrabber{}
	sources := []Source{
		{Kind: ExternalImage, Timestamp: 0, URL: srv.URL + "/a.jpg"},
		{Kind: FrameGrab, Timestamp: 5},
		{Kind: ExternalImage, Timestamp: 9, URL: srv.URL + "/missing.png"},
		{Kind: ExternalImage, Timestamp: 12.5, URL: srv.URL + "/c.png"},
	}

	events, err := NewExtractor(grabber, srv.Client(), 2).Extract(context.Background(), "video.mp4", sources, dir)
	require.NoError(t, err)

	require.Len(t, events, 3, "the missing slide is skipped")
	assert.Equal(t, filepath.Join(dir, "0000_000000000.jpg"), events[0].Image)
	assert.Equal(t, filepath.Join(dir, "0001_000005000.png"), events[1].Image)
	assert.Equal(t, 12.5, events[2].Timestamp)
	assert.Equal(t, []float64{5}, grabber.grabbed)

	data, err := os.ReadFile(events[2].Image)
	require.NoError(t, err)
	assert.Equal(t, "image:/c.png", string(data))
}

func TestExtractor_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	var sources []Source
	for i := 0; i < 12; i++ {
		sources = append(sources, Source{Kind: ExternalImage, Timestamp: float64(i), URL: fmt.Sprintf("%s/%d.png", srv.URL, i)})
	}

	events, err := NewExtractor(nil, srv.Client(), 3).Extract(context.Background(), "", sources, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, events, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestExtractor_AllFail(t *testing.T) {
	grabber := &mockGrabber{failAt: map[float64]bool{0: true, 30: true}}
	_, err := NewExtractor(grabber, nil, 1).Extract(context.Background(), "v.mp4",
		[]Source{{Kind: FrameGrab, Timestamp: 0}, {Kind: FrameGrab, Timestamp: 30}}, t.TempDir())
	assert.True(t, errors.Is(err, ErrNoSlides))
}

func TestExtractor_ReusesExistingImages(t *testing.T) {
	dir := t.TempDir()
	src := Source{Kind: FrameGrab, Timestamp: 42}
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(0, src)), []byte("old"), 0o644))

	grabber := &mockGrabber{}
	events, err := NewExtractor(grabber, nil, 1).Extract(context.Background(), "v.mp4", []Source{src}, dir)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Empty(t, grabber.grabbed)
}

func TestExtractor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(&mockGrabber{}, nil, 1).Extract(ctx, "v.mp4", []Source{{Kind: FrameGrab}}, t.TempDir())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "0007_000012500.png", FileName(7, Source{Kind: FrameGrab, Timestamp: 12.5}))
	assert.Equal(t, "0001_000001000.webp", FileName(1, Source{Kind: ExternalImage, Timestamp: 1, URL: "https://x/y/s.WEBP?h=1080"}))
	assert.Equal(t, "0002_000002000.png", FileName(2, Source{Kind: ExternalImage, Timestamp: 2, URL: "https://x/y/s"}))
}
