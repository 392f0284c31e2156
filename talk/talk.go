// Package talk holds the per-talk model and the on-disk layout of its
// artifacts.
package talk

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gofrs/flock"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrLocked = errors.New("talk directory is locked by another process")

const maxSlugLen = 48

// Talk is one conference presentation moving through the pipeline. Fields
// below VideoPath are filled in as stages complete.
type Talk struct {
	Index int
	ID    string
	URL   string
	Dir   string
	// Key is the base name of Dir. Unlike ID it is unique per URL.
	Key string

	SlidesDir      string
	SlideVideoPath string
	OutputPath     string

	VideoPath string
	Duration  float64
	FrameRate float64
	Width     int
	Height    int
	HasAudio  bool
}

// New lays out a talk under root. The directory name is derived from the URL
// alone, so reruns reuse it and distinct URLs never share one.
func New(index int, rawURL, root string) *Talk {
	key := DirName(rawURL)
	dir := filepath.Join(root, key)
	return &Talk{
		Index:          index,
		ID:             IDFromURL(rawURL),
		URL:            rawURL,
		Dir:            dir,
		Key:            key,
		SlidesDir:      filepath.Join(dir, "slides"),
		SlideVideoPath: filepath.Join(dir, "slides_video.mp4"),
		OutputPath:     filepath.Join(dir, "final.mp4"),
	}
}

// IDFromURL returns the last non-empty path segment, or the host when the
// path is empty.
func IDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Slug(rawURL)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return Slug(u.Hostname())
	}
	return Slug(strings.TrimSuffix(last, path.Ext(last)))
}

// DirName is talk_<slug>_<first 8 hex digits of sha1(url)>.
func DirName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	slug := IDFromURL(rawURL)
	if slug == "" {
		slug = "untitled"
	}
	return fmt.Sprintf("talk_%s_%s", slug, hex.EncodeToString(sum[:])[:8])
}

// Slug folds s to lowercase ASCII letters, digits, '-' and '_'. Accented
// letters lose their marks; anything else becomes '-'.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Lock takes an exclusive, non-blocking lock on the talk directory. It
// returns ErrLocked when another process holds it.
func (t *Talk) Lock() (func() error, error) {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create talk dir: %w", err)
	}
	lock := flock.New(filepath.Join(t.Dir, ".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, t.Dir)
	}
	return lock.Unlock, nil
}
