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

// MarketauxAdapter integrates the Marketaux financial-news API
// (GET /v1/news/all?symbols=...&api_token=...).
type MarketauxAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type marketauxResponse struct {
	Data []struct {
		UUID        string `json:"uuid"`
		Title       string `json:"title"`
		PublishedAt string `json:"published_at"`
		URL         string `json:"url"`
		Snippet     string `json:"snippet"`
		Entities    []struct {
			Symbol string `json:"symbol"`
		} `json:"entities"`
	} `json:"data"`
}

// NewMarketaux creates a Marketaux adapter from its source config.
func NewMarketaux(cfg config.SourceConfig) *MarketauxAdapter {
	return &MarketauxAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey(),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *MarketauxAdapter) Name() string { return "marketaux" }

func (a *MarketauxAdapter) Fetch(ctx context.Context, symbols []string) ([]RawArticle, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	q.Set("api_token", a.apiKey)
	q.Set("filter_entities", "true")
	endpoint := fmt.Sprintf("%s/v1/news/all?%s", a.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building marketaux request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marketaux: %v", apperrors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: marketaux returned status %d", apperrors.ErrSourceUnavailable, resp.StatusCode)
	}

	var payload marketauxResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding marketaux response: %v", apperrors.ErrSourceUnavailable, err)
	}

	articles := make([]RawArticle, 0, len(payload.Data))
	for _, item := range payload.Data {
		matched := make([]string, 0, len(item.Entities))
		for _, e := range item.Entities {
			if e.Symbol != "" {
				matched = append(matched, e.Symbol)
			}
		}
		if len(matched) == 0 {
			matched = symbols
		}
		articles = append(articles, RawArticle{
			SourceName:      a.Name(),
			SourceArticleID: item.UUID,
			Headline:        item.Title,
			PublishedAt:     normalizeTimestamp(item.PublishedAt),
			URL:             item.URL,
			Symbols:         matched,
			Snippet:         item.Snippet,
		})
	}
	return articles, nil
}
