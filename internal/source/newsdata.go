package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pulsewire/newsfuse/pkg/config"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
)

// NewsdataAdapter integrates the Newsdata.io latest-news API
// (GET /api/1/latest?q=...&apikey=...). Newsdata has no symbol tagging, so
// the queried symbols are carried through as the matched set.
type NewsdataAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type newsdataResponse struct {
	Status  string `json:"status"`
	Results []struct {
		ArticleID   string `json:"article_id"`
		Title       string `json:"title"`
		PubDate     string `json:"pubDate"`
		Link        string `json:"link"`
		Description string `json:"description"`
	} `json:"results"`
}

// NewNewsdata creates a Newsdata adapter from its source config.
func NewNewsdata(cfg config.SourceConfig) *NewsdataAdapter {
	return &NewsdataAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey(),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *NewsdataAdapter) Name() string { return "newsdata" }

func (a *NewsdataAdapter) Fetch(ctx context.Context, symbols []string) ([]RawArticle, error) {
	q := url.Values{}
	q.Set("q", strings.Join(symbols, " OR "))
	q.Set("apikey", a.apiKey)
	q.Set("category", "business")
	endpoint := fmt.Sprintf("%s/api/1/latest?%s", a.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building newsdata request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: newsdata: %v", apperrors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: newsdata returned status %d", apperrors.ErrSourceUnavailable, resp.StatusCode)
	}

	var payload newsdataResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding newsdata response: %v", apperrors.ErrSourceUnavailable, err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("%w: newsdata status %q", apperrors.ErrSourceUnavailable, payload.Status)
	}

	articles := make([]RawArticle, 0, len(payload.Results))
	for _, item := range payload.Results {
		articles = append(articles, RawArticle{
			SourceName:      a.Name(),
			SourceArticleID: item.ArticleID,
			Headline:        item.Title,
			PublishedAt:     normalizeTimestamp(item.PubDate),
			URL:             item.Link,
			Symbols:         symbols,
			Snippet:         item.Description,
		})
	}
	return articles, nil
}

// FromConfig builds the adapter for a configured source name. Unknown names
// are rejected so config typos surface at startup rather than mid-run.
func FromConfig(name string, cfg config.SourceConfig) (Adapter, error) {
	switch name {
	case "finwire":
		return NewFinwire(cfg), nil
	case "marketaux":
		return NewMarketaux(cfg), nil
	case "newsdata":
		return NewNewsdata(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidInput, name)
	}
}
