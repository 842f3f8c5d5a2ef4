package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	feedUserAgent = "etfdiscovery/1.0"
	feedMaxPages  = 50
)

// feedPage is one page of a provider instrument feed.
type feedPage struct {
	AsOf        time.Time    `json:"asOf"`
	Instruments []Instrument `json:"instruments"`
	Next        string       `json:"next,omitempty"`
}

// HTTPSource pulls instruments from a provider's JSON feed. Feeds may be
// paginated through the "next" link of each page.
type HTTPSource struct {
	httpClient *http.Client
	provider   string
	baseURL    string
}

// NewHTTPSource creates a feed source for provider at baseURL.
func NewHTTPSource(httpClient *http.Client, provider, baseURL string) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{httpClient: httpClient, provider: provider, baseURL: baseURL}
}

// Name returns the source label.
func (s *HTTPSource) Name() string { return "feed:" + s.provider }

// Load follows the feed's pages and returns every instrument. Instruments
// without provenance are stamped with the feed as their data source.
func (s *HTTPSource) Load(ctx context.Context) ([]Instrument, error) {
	var all []Instrument
	next := s.baseURL
	for page := 0; next != ""; page++ {
		if page == feedMaxPages {
			return nil, fmt.Errorf("feed %s: more than %d pages", s.provider, feedMaxPages)
		}
		p, err := s.fetchPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", s.provider, err)
		}
		for _, inst := range p.Instruments {
			if len(inst.DataSources) == 0 {
				inst.DataSources = []DataSource{{Type: "feed", Provider: s.provider, URL: s.baseURL, AsOfDate: p.AsOf}}
			}
			all = append(all, inst)
		}
		if next, err = s.resolve(next, p.Next); err != nil {
			return nil, fmt.Errorf("feed %s: %w", s.provider, err)
		}
	}
	return all, nil
}

// fetchPage fetches and decodes a single page.
func (s *HTTPSource) fetchPage(ctx context.Context, pageURL string) (*feedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var p feedPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &p, nil
}

// resolve turns a possibly relative next link into an absolute URL.
func (s *HTTPSource) resolve(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", next, err)
	}
	return base.ResolveReference(ref).String(), nil
}
