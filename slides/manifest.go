package slides

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const maxManifestSize = 8 << 20

// Manifest reads a SlidesLive-style slides.json. ManifestURL and ImageURL
// are templates: {id} is replaced by the talk ID and {name} by the image
// name of an entry.
type Manifest struct {
	client      *http.Client
	manifestURL string
	imageURL    string
}

func NewManifest(client *http.Client, manifestURL, imageURL string) *Manifest {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manifest{client: client, manifestURL: manifestURL, imageURL: imageURL}
}

type manifestDoc struct {
	Slides []manifestSlide `json:"slides"`
}

type manifestSlide struct {
	Time  float64 `json:"time"`
	Type  string  `json:"type"`
	Image *struct {
		Name string `json:"name"`
	} `json:"image"`
}

func (m *Manifest) Sources(ctx context.Context, talkID string, _ float64) ([]Source, error) {
	target := expand(m.manifestURL, talkID, "")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: manifest %s returned %s", ErrNoSlides, target, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch manifest %s: unexpected status %s", target, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	srcs, err := m.Parse(body, talkID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int("slides", len(srcs)).Str("manifest", target).Msg("loaded slide manifest")
	return srcs, nil
}

// Parse turns a manifest body into sources ordered by timestamp. Entries of
// type "image" become ExternalImage; everything else is grabbed from the
// video at the same moment.
func (m *Manifest) Parse(body []byte, talkID string) ([]Source, error) {
	var doc manifestDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(doc.Slides) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no slides", ErrNoSlides)
	}

	out := make([]Source, 0, len(doc.Slides))
	for _, s := range doc.Slides {
		src := Source{Kind: FrameGrab, Timestamp: s.Time / 1000}
		if s.Type == "image" && s.Image != nil && s.Image.Name != "" {
			src.Kind = ExternalImage
			src.URL = expand(m.imageURL, talkID, s.Image.Name)
		}
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func expand(template, id, name string) string {
	return strings.NewReplacer("{id}", url.PathEscape(id), "{name}", url.PathEscape(name)).Replace(template)
}
