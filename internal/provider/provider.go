// Package provider contains one adapter per upstream data source. Every
// adapter converts a provider-specific payload into zero or more canonical
// events and never lets an error escape its boundary: transport, parse, and
// schema failures all surface as a ProviderResult status, and a partially
// parsable payload yields whatever events could be salvaged.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// Provider fetches canonical events from one upstream source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) domain.ProviderResult
}

// maxResponseBytes caps provider payload reads; the largest real feed
// (USGS all_month) stays well under this.
const maxResponseBytes = 16 << 20

// getJSON issues a GET and decodes a JSON body into v. Any status outside
// 2xx is an error; callers translate errors into a result status.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// postJSON issues a POST with a JSON body and decodes the JSON response
// into out, with the same status handling as getJSON.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusForError maps a fetch error to a result status. Deadline and
// cancellation errors count as timeouts so the orchestrator's manifest
// distinguishes slow providers from broken ones.
func statusForError(err error) domain.Status {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.StatusTimedOut
	}
	return domain.StatusFailed
}
