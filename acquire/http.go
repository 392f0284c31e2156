package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog"
)

// HTTP downloads direct media URLs.
type HTTP struct {
	client  *http.Client
	maxSize int64
}

func NewHTTP(client *http.Client, maxSize int64) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, maxSize: maxSize}
}

func (h *HTTP) Acquire(ctx context.Context, rawURL, dir string) (string, error) {
	ext := mediaExt(rawURL)
	if !mediaExts[ext] {
		ext = ".mp4"
	}
	dest := filepath.Join(dir, "source"+ext)

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		zerolog.Ctx(ctx).Info().Str("path", dest).Msg("source video already present, skipping download")
		return dest, nil
	}

	n, err := Download(ctx, h.client, rawURL, dest, h.maxSize)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Attempts: 1, Err: err}
	}
	zerolog.Ctx(ctx).Info().
		Str("path", dest).
		Str("size", datasize.ByteSize(n).HumanReadable()).
		Msg("downloaded source video")
	return dest, nil
}

// Download streams rawURL to dest through a temporary sibling file. Bodies
// larger than limit bytes are rejected; a limit of zero disables the check.
func Download(ctx context.Context, client *http.Client, rawURL, dest string, limit int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errPermanent, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %v", errPermanent, err)
		}
		return 0, err
	}
	if limit > 0 && resp.ContentLength > limit {
		return 0, fmt.Errorf("%w: content length %d exceeds limit of %d bytes", errPermanent, resp.ContentLength, limit)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.partial")
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		// Use a LimitedReader to enforce the size cap even without Content-Length.
		body = &io.LimitedReader{R: resp.Body, N: limit + 1}
	}
	written, err := io.Copy(tmp, body)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("write download: %w", err)
	}
	if limit > 0 && written > limit {
		cleanup()
		return 0, fmt.Errorf("%w: body exceeds limit of %d bytes", errPermanent, limit)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return written, nil
}
