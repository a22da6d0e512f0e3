package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pulsewire/newsfuse/pkg/config"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
)

// FinwireAdapter integrates the Finwire company-news API
// (GET /v1/news?symbols=...&token=...).
type FinwireAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type finwireResponse struct {
	Articles []struct {
		ID          string   `json:"id"`
		Headline    string   `json:"headline"`
		PublishedAt string   `json:"published_at"`
		URL         string   `json:"url"`
		Symbols     []string `json:"symbols"`
		Summary     string   `json:"summary"`
	} `json:"articles"`
}

// NewFinwire creates a Finwire adapter from its source config.
func NewFinwire(cfg config.SourceConfig) *FinwireAdapter {
	return &FinwireAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey(),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *FinwireAdapter) Name() string { return "finwire" }

func (a *FinwireAdapter) Fetch(ctx context.Context, symbols []string) ([]RawArticle, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	q.Set("token", a.apiKey)
	endpoint := fmt.Sprintf("%s/v1/news?%s", a.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building finwire request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: finwire: %v", apperrors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: finwire returned status %d", apperrors.ErrSourceUnavailable, resp.StatusCode)
	}

	var payload finwireResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding finwire response: %v", apperrors.ErrSourceUnavailable, err)
	}

	articles := make([]RawArticle, 0, len(payload.Articles))
	for _, item := range payload.Articles {
		matched := item.Symbols
		if len(matched) == 0 {
			matched = symbols
		}
		articles = append(articles, RawArticle{
			SourceName:      a.Name(),
			SourceArticleID: item.ID,
			Headline:        item.Headline,
			PublishedAt:     normalizeTimestamp(item.PublishedAt),
			URL:             item.URL,
			Symbols:         matched,
			Snippet:         item.Summary,
		})
	}
	return articles, nil
}

// normalizeTimestamp coerces source timestamps to RFC 3339 so the calendar
// date always occupies the first ten characters. Unparseable values pass
// through unchanged.
func normalizeTimestamp(ts string) string {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ts
}
