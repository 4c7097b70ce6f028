// Warmup - Cache Warming Scheduler for the Coachware Fitness Platform
// Copyright 2026 Coachware
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coachware/warmup

package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachware/warmup/internal/warming"
)

// PlatformSource is the production DataSource. It fetches cacheable payloads
// from the coaching platform's internal API.
type PlatformSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewPlatformSource creates a client for the platform's internal API.
//
// Parameters:
//   - baseURL: platform base URL (e.g. http://platform.internal:8080)
//   - apiKey: service-to-service API key, sent as a bearer token
func NewPlatformSource(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *PlatformSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PlatformSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "platform-source").Logger(),
	}
}

// SubjectPayloads fetches one subject's cacheable payloads at the given scope.
// An unknown subject is a validation error and is never retried; transport
// and server failures are retriable backend errors.
func (c *PlatformSource) SubjectPayloads(ctx context.Context, subjectID string, scope Scope) (map[string][]byte, error) {
	endpoint := fmt.Sprintf("/internal/v1/subjects/%s/cache-payloads?scope=%s",
		url.PathEscape(subjectID), scope)

	resp, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return nil, &warming.BackendError{Op: "fetch subject payloads", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &warming.ValidationError{Field: "subject_id", Reason: "unknown subject"}
	default:
		return nil, &warming.BackendError{
			Op:  "fetch subject payloads",
			Err: fmt.Errorf("platform returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body)),
		}
	}

	return decodePayloads(resp.Body)
}

// SharedPayloads fetches the process-wide payloads (exercise catalog, program
// templates).
func (c *PlatformSource) SharedPayloads(ctx context.Context) (map[string][]byte, error) {
	resp, err := c.doRequest(ctx, "/internal/v1/cache-payloads/shared")
	if err != nil {
		return nil, &warming.BackendError{Op: "fetch shared payloads", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &warming.BackendError{
			Op:  "fetch shared payloads",
			Err: fmt.Errorf("platform returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body)),
		}
	}

	return decodePayloads(resp.Body)
}

func (c *PlatformSource) doRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}

// decodePayloads reads a {"entry_name": <json>} body into raw payload bytes.
func decodePayloads(body io.Reader) (map[string][]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, &warming.BackendError{Op: "decode payloads", Err: err}
	}
	payloads := make(map[string][]byte, len(raw))
	for name, msg := range raw {
		payloads[name] = []byte(msg)
	}
	return payloads, nil
}

// readErrorBody returns a truncated response body for error messages.
func readErrorBody(body io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return "(failed to read body)"
	}
	return string(b)
}

// ActiveSubjectProvider reports the subject the platform considers current:
// the coach with the most recent session activity. It implements
// warming.SubjectProvider.
type ActiveSubjectProvider struct {
	source *PlatformSource

	// timeout bounds the lookup; SubjectProvider has no context parameter.
	timeout time.Duration
}

// NewActiveSubjectProvider creates a provider backed by the platform API.
func NewActiveSubjectProvider(source *PlatformSource, timeout time.Duration) *ActiveSubjectProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ActiveSubjectProvider{source: source, timeout: timeout}
}

// Current returns the active subject, or false when no coach has a live
// session or the lookup fails.
func (p *ActiveSubjectProvider) Current() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	resp, err := p.source.doRequest(ctx, "/internal/v1/subjects/active")
	if err != nil {
		p.source.logger.Debug().Err(err).Msg("Active subject lookup failed")
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return "", false
	}
	if resp.StatusCode != http.StatusOK {
		p.source.logger.Debug().Int("status", resp.StatusCode).Msg("Active subject lookup failed")
		return "", false
	}

	var payload struct {
		SubjectID string `json:"subject_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.SubjectID == "" {
		return "", false
	}
	return payload.SubjectID, true
}
