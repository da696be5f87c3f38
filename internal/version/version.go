// Package version looks up the current protocol client version from a
// published JSON descriptor of the form {"version":[2,3000,1023223821]}.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MardaOneli/WaBot/internal/failure"
)

// Version is a major.minor.patch triple.
type Version [3]uint32

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// IsZero reports whether v is unset.
func (v Version) IsZero() bool { return v == Version{} }

// Info is the result of a lookup. IsLatest is false when Version is a
// fallback rather than the published value.
type Info struct {
	Version  Version
	IsLatest bool
}

// Fetcher retrieves the descriptor over HTTP.
type Fetcher struct {
	URL    string
	Client *http.Client
}

// NewFetcher returns a Fetcher with its own client bounded by timeout.
func NewFetcher(url string, timeout time.Duration) *Fetcher {
	return &Fetcher{URL: url, Client: &http.Client{Timeout: timeout}}
}

type descriptor struct {
	Version []uint32 `json:"version"`
}

// Fetch returns the published version. Any failure is a
// *failure.VersionFetchError.
func (f *Fetcher) Fetch(ctx context.Context) (Info, error) {
	v, err := f.fetch(ctx)
	if err != nil {
		return Info{}, &failure.VersionFetchError{URL: f.URL, Err: err}
	}
	return Info{Version: v, IsLatest: true}, nil
}

func (f *Fetcher) fetch(ctx context.Context) (Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Version{}, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Version{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Version{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var d descriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Version{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if len(d.Version) != 3 {
		return Version{}, errors.New("descriptor must hold exactly three version components")
	}
	return Version{d.Version[0], d.Version[1], d.Version[2]}, nil
}
