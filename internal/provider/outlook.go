package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/quota"
)

// Outlook is a pseudo-provider that asks a chat-completion model for a short
// forward-looking seismic risk narrative for the priority region. The model
// API is billed per call, so fetches are quota-gated; when the budget is
// exhausted the adapter serves a static preparedness narrative flagged as
// synthetic instead of failing, and the feed result is marked degraded.
type Outlook struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
	governor   *quota.Governor
	logger     *slog.Logger
}

const outlookPrompt = "Write a concise seismic activity outlook for the Indian " +
	"subcontinent for the next 48 hours, based on general historical seismicity. " +
	"Two short paragraphs, plain text, no predictions of specific earthquakes."

// fallbackBody is served when the model budget is exhausted. Kept generic on
// purpose: it must be safe to show on any day.
const fallbackBody = "Seismic monitoring continues across the Indian subcontinent. " +
	"The Himalayan arc and the Andaman-Nicobar arc remain the most active zones; " +
	"minor tremors in these belts are routine and usually pass unfelt.\n\n" +
	"Keep an emergency kit accessible, identify safe spots away from glass and " +
	"heavy furniture, and follow drop-cover-hold-on guidance if shaking starts."

// NewOutlook creates the model-backed outlook adapter.
func NewOutlook(baseURL, token, model string, timeout time.Duration, governor *quota.Governor, logger *slog.Logger) *Outlook {
	return &Outlook{
		token:      token,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		governor:   governor,
		logger:     logger,
	}
}

func (o *Outlook) Name() string { return "outlook" }

func (o *Outlook) Fetch(ctx context.Context) domain.ProviderResult {
	if !o.governor.TryAcquire(o.Name()) {
		o.logger.Warn("outlook model quota exhausted, serving synthetic fallback")
		return domain.ProviderResult{
			Provider: o.Name(),
			Status:   domain.StatusSkippedByQuota,
			Events:   []domain.Event{o.narrativeEvent(fallbackBody, true)},
		}
	}

	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "user", Content: outlookPrompt},
		},
	}
	var resp chatResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/chat/completions", o.token, req, &resp); err != nil {
		o.logger.Warn("outlook generation failed", "error", err)
		return domain.ProviderResult{Provider: o.Name(), Status: statusForError(err)}
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		o.logger.Warn("outlook generation returned empty completion")
		return domain.ProviderResult{Provider: o.Name(), Status: domain.StatusFailed}
	}

	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	return domain.ProviderResult{
		Provider: o.Name(),
		Status:   domain.StatusOK,
		Events:   []domain.Event{o.narrativeEvent(body, false)},
	}
}

func (o *Outlook) narrativeEvent(body string, synthetic bool) domain.Event {
	now := time.Now().UTC()
	// The outlook always concerns the priority region; the location text
	// says so and the classifier confirms it like any other event.
	loc := domain.Location{FreeText: "India and the surrounding subcontinent"}
	return domain.Event{
		ID:         "outlook-" + now.Format("2006-01-02"),
		Kind:       domain.KindNarrative,
		Title:      "Seismic outlook: Indian subcontinent",
		Summary:    firstSentence(body),
		Body:       body,
		OccurredAt: now,
		Location:   loc,
		Region:     domain.ClassifyRegion(loc),
		Provider:   o.Name(),
		Synthetic:  synthetic,
	}
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i > 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}

// Chat-completion API types (OpenAI-compatible).

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
