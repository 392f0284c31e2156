package talk

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// Entry is one accepted line of a talk list.
type Entry struct {
	Line int    `json:"line"`
	URL  string `json:"url"`
}

// Skipped is a list line that was ignored, with the reason.
type Skipped struct {
	Line   int    `json:"line"`
	Raw    string `json:"entry"`
	Reason string `json:"reason"`
}

// ParseList reads one URL per line. Blank lines and '#' comments are ignored
// silently; malformed URLs are reported in skipped and never fail the list.
func ParseList(r io.Reader) ([]Entry, []Skipped, error) {
	var (
		entries []Entry
		skipped []Skipped
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		u, err := ValidateURL(raw)
		if err != nil {
			skipped = append(skipped, Skipped{Line: line, Raw: raw, Reason: err.Error()})
			continue
		}
		entries = append(entries, Entry{Line: line, URL: u})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read talk list: %w", err)
	}
	return entries, skipped, nil
}

// ReadListFile parses the list at path.
func ReadListFile(path string) ([]Entry, []Skipped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ParseList(f)
}

// ParseURLs applies the list rules to an in-memory slice.
func ParseURLs(urls []string) ([]Entry, []Skipped) {
	entries, skipped, _ := ParseList(strings.NewReader(strings.Join(urls, "\n")))
	return entries, skipped
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (string, error) {
	if strings.ContainsAny(raw, " \t") {
		return "", fmt.Errorf("URL contains whitespace")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL has no host")
	}
	return u.String(), nil
}
