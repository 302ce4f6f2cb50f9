package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultReleasesURL is the GitHub API endpoint for the latest release.
const defaultReleasesURL = "https://api.github.com/repos/syne-agent/syne/releases/latest"

// Release describes the newest published version upstream.
type Release struct {
	Tag     string `json:"tag_name"`
	Name    string `json:"name"`
	URL     string `json:"html_url"`
	Body    string `json:"body"`
	Created string `json:"created_at"`
}

// Checker polls the release feed. Zero value is not usable; call NewChecker.
type Checker struct {
	url     string
	client  *http.Client
	version string
}

// NewChecker builds a checker comparing against the running build version.
// An empty url uses the default release feed.
func NewChecker(url string) *Checker {
	if url == "" {
		url = defaultReleasesURL
	}
	return &Checker{
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		version: Version,
	}
}

// Check fetches the latest release and reports whether it is newer than the
// running binary. Dev builds never report an available update.
func (c *Checker) Check(ctx context.Context) (*Release, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch releases: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("release feed returned status %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, false, fmt.Errorf("decode release: %w", err)
	}
	if rel.Tag == "" {
		return nil, false, fmt.Errorf("release feed returned no tag")
	}
	return &rel, newerVersion(rel.Tag, c.version), nil
}

// newerVersion compares two vX.Y.Z style tags numerically, part by part.
// Non-numeric versions ("dev") never trigger an update.
func newerVersion(latest, current string) bool {
	lp, ok := versionParts(latest)
	if !ok {
		return false
	}
	cp, ok := versionParts(current)
	if !ok {
		return false
	}
	for i := 0; i < 3; i++ {
		if lp[i] != cp[i] {
			return lp[i] > cp[i]
		}
	}
	return false
}

func versionParts(v string) ([3]int, bool) {
	var out [3]int
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	// Drop pre-release / build suffixes.
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
