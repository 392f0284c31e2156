package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAcquirer is a mock implementation of the Acquirer interface for testing.
type mockAcquirer struct {
	calls       int
	acquireFunc func(call int) (string, error)
}

func (m *mockAcquirer) Acquire(_ context.Context, rawURL, dir string) (string, error) {
	m.calls++
	if m.acquireFunc != nil {
		return m.acquireFunc(m.calls)
	}
	return filepath.Join(dir, "source.mp4"), nil
}

func TestHTTP_Acquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake video bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := NewHTTP(srv.Client(), 1024).Acquire(context.Background(), srv.URL+"/talk.webm", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.webm"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(data))

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*partial"))
	assert.Empty(t, leftovers)
}

func TestHTTP_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHTTP(srv.Client(), 10).Acquire(context.Background(), srv.URL+"/big.mp4", dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownload))
	assert.True(t, errors.Is(err, errPermanent))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "partial file must be removed")
}

func TestHTTP_NotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	inner := NewHTTP(srv.Client(), 0)
	r := &Retry{Next: inner, Retries: 3, Backoff: time.Millisecond}
	_, err := r.Acquire(context.Background(), srv.URL+"/missing.mp4", t.TempDir())

	var de *DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Attempts)
	assert.Contains(t, de.Error(), "404")
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	m := &mockAcquirer{acquireFunc: func(call int) (string, error) {
		if call < 3 {
			return "", &DownloadError{Attempts: 1, Err: errors.New("connection reset")}
		}
		return "/tmp/source.mp4", nil
	}}
	r := &Retry{Next: m, Retries: 3, Backoff: time.Millisecond}

	path, err := r.Acquire(context.Background(), "https://example.org/v.mp4", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/source.mp4", path)
	assert.Equal(t, 3, m.calls)
}

func TestRetry_GivesUp(t *testing.T) {
	m := &mockAcquirer{acquireFunc: func(int) (string, error) {
		return "", errors.New("timeout")
	}}
	r := &Retry{Next: m, Retries: 2, Backoff: time.Millisecond}

	_, err := r.Acquire(context.Background(), "https://example.org/v.mp4", t.TempDir())
	var de *DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, "timeout", de.Err.Error())
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &mockAcquirer{acquireFunc: func(int) (string, error) {
		cancel()
		return "", errors.New("aborted")
	}}
	r := &Retry{Next: m, Retries: 5, Backoff: time.Hour}

	_, err := r.Acquire(ctx, "https://example.org/v.mp4", t.TempDir())
	assert.True(t, errors.Is(err, ErrDownload))
	assert.Equal(t, 1, m.calls)
}

func TestAuto(t *testing.T) {
	direct, page := &mockAcquirer{}, &mockAcquirer{}
	a := &Auto{Direct: direct, Page: page}

	_, _ = a.Acquire(context.Background(), "https://cdn.example.org/talk.MP4?sig=1", "d")
	_, _ = a.Acquire(context.Background(), "https://slideslive.com/38922884", "d")
	_, _ = a.Acquire(context.Background(), "https://www.youtube.com/watch?v=abc", "d")

	assert.Equal(t, 1, direct.calls)
	assert.Equal(t, 2, page.calls)
}

func TestCommand_Acquire(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(t.TempDir(), "fake-dl")
	body := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
f=$(echo "$out" | sed 's/%(ext)s/mkv/')
printf 'video' > "$f"
printf 'frag' > "$f.part"
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	c, err := NewCommand(script)
	require.NoError(t, err)

	path, err := c.Acquire(context.Background(), "https://slideslive.com/38922884", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.mkv"), path)
}

func TestCommand_Failure(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-dl")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'ERROR: Unsupported URL' >&2\nexit 1\n"), 0o755))

	c, err := NewCommand(script)
	require.NoError(t, err)

	_, err = c.Acquire(context.Background(), "https://example.org/page", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownload))
	assert.Contains(t, err.Error(), "Unsupported URL")
}

func TestNewCommand_MissingBinary(t *testing.T) {
	_, err := NewCommand("/nonexistent/yt-dlp")
	assert.Error(t, err)
}
