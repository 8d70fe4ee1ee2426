package crosswalk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entries maps a legislator's bioguide id to the external funding-system
// candidate ids listed for them, in dataset order.
type Entries map[string][]string

// Source loads the full crosswalk dataset.
type Source interface {
	Fetch(ctx context.Context) (Entries, error)
}

type legislator struct {
	ID struct {
		Bioguide string   `yaml:"bioguide"`
		FEC      []string `yaml:"fec"`
	} `yaml:"id"`
}

// Parse decodes the legislators YAML list. Entries without a bioguide id or
// without external ids are skipped.
func Parse(r io.Reader) (Entries, error) {
	var list []legislator
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode crosswalk yaml: %w", err)
	}
	entries := make(Entries, len(list))
	for _, l := range list {
		id := strings.TrimSpace(l.ID.Bioguide)
		if id == "" || len(l.ID.FEC) == 0 {
			continue
		}
		ids := make([]string, 0, len(l.ID.FEC))
		for _, f := range l.ID.FEC {
			if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
				ids = append(ids, f)
			}
		}
		if len(ids) > 0 {
			entries[id] = ids
		}
	}
	return entries, nil
}

// HTTPSource fetches the dataset from a URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context) (Entries, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create crosswalk request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch crosswalk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch crosswalk: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}
