package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/quota"
)

// GNews adapts the GNews article search API (https://gnews.io). The free
// tier allows a small daily call budget, so every fetch is gated by the
// quota governor; once the budget is gone the adapter reports
// skipped_by_quota without touching the network and consumers keep being
// served from the last cached snapshot.
type GNews struct {
	token      string
	query      string
	baseURL    string
	httpClient *http.Client
	governor   *quota.Governor
	logger     *slog.Logger
}

// NewGNews creates a GNews search adapter.
func NewGNews(baseURL, token, query string, timeout time.Duration, governor *quota.Governor, logger *slog.Logger) *GNews {
	return &GNews{
		token:      token,
		query:      query,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		governor:   governor,
		logger:     logger,
	}
}

func (g *GNews) Name() string { return "gnews" }

func (g *GNews) Fetch(ctx context.Context) domain.ProviderResult {
	if !g.governor.TryAcquire(g.Name()) {
		g.logger.Warn("gnews daily quota exhausted, skipping fetch")
		return domain.ProviderResult{Provider: g.Name(), Status: domain.StatusSkippedByQuota}
	}

	params := url.Values{
		"q":      {g.query},
		"lang":   {"en"},
		"max":    {"25"},
		"token":  {g.token},
		"sortby": {"publishedAt"},
	}
	var payload gnewsResponse
	if err := getJSON(ctx, g.httpClient, g.baseURL+"/api/v4/search?"+params.Encode(), &payload); err != nil {
		g.logger.Warn("gnews fetch failed", "error", err)
		return domain.ProviderResult{Provider: g.Name(), Status: statusForError(err)}
	}

	events := make([]domain.Event, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		ev, ok := g.toEvent(a)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return domain.ProviderResult{Provider: g.Name(), Status: domain.StatusOK, Events: events}
}

func (g *GNews) toEvent(a gnewsArticle) (domain.Event, bool) {
	if a.URL == "" || a.Title == "" {
		return domain.Event{}, false
	}
	published, err := time.Parse(time.RFC3339, a.PublishedAt)
	if err != nil {
		return domain.Event{}, false
	}

	// Articles carry no coordinates; the classifier works off the headline
	// and description text.
	loc := domain.Location{FreeText: a.Title + " " + a.Description}
	return domain.Event{
		ID:         domain.DeriveID("gnews", a.URL),
		Kind:       domain.KindNarrative,
		Title:      a.Title,
		Summary:    a.Description,
		Body:       a.Content,
		OccurredAt: published.UTC(),
		Location:   loc,
		Region:     domain.ClassifyRegion(loc),
		Provider:   g.Name(),
		SourceURL:  a.URL,
	}, true
}

// GNews API response types.

type gnewsResponse struct {
	TotalArticles int            `json:"totalArticles"`
	Articles      []gnewsArticle `json:"articles"`
}

type gnewsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}
