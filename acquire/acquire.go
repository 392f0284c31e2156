// Package acquire fetches a talk's source video into its working directory.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var (
	ErrDownload = errors.New("download failed")

	// errPermanent marks failures a retry cannot fix.
	errPermanent = errors.New("permanent")
)

// DownloadError is returned once every attempt for a URL has failed.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", ErrDownload, e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() []error { return []error{ErrDownload, e.Err} }

// Acquirer stores the media behind rawURL in dir and returns the local path.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL, dir string) (string, error)
}

var mediaExts = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mkv":  true,
	".mov":  true,
	".webm": true,
}

// Auto sends URLs that point straight at a media file to Direct and
// everything else to Page.
type Auto struct {
	Direct Acquirer
	Page   Acquirer
}

func (a *Auto) Acquire(ctx context.Context, rawURL, dir string) (string, error) {
	if IsDirectMedia(rawURL) || a.Page == nil {
		return a.Direct.Acquire(ctx, rawURL, dir)
	}
	return a.Page.Acquire(ctx, rawURL, dir)
}

// IsDirectMedia reports whether the URL path ends in a known video extension.
func IsDirectMedia(rawURL string) bool {
	return mediaExts[mediaExt(rawURL)]
}

func mediaExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
