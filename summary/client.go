// Package summary looks up the persisted end-of-session report when the peer
// closed a session without sending one in-band.
//
// The backend stores every session row and fills in the summary once the
// conversation has been analysed, which can take several seconds after the
// channel closes. A Poller asks for the subject's latest session until a
// fresh row with a summary appears or its window runs out.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFound is returned by Latest when the subject has no session row yet.
var ErrNotFound = errors.New("no session found")

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 512

// noSessionsDetail is the backend's error detail when a subject has no rows.
const noSessionsDetail = "No sessions found"

// Record is one persisted session row.
type Record struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patient_id"`
	StartedAt       Timestamp  `json:"started_at"`
	EndedAt         *Timestamp `json:"ended_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	SessionType     string     `json:"session_type"`
	Summary         string     `json:"summary"`
	AIInsights      string     `json:"ai_insights"`
	HeartRate       *float64   `json:"heart_rate,omitempty"`
	SpO2Level       *float64   `json:"spo2_level,omitempty"`
}

// Timestamp accepts RFC 3339 times as well as offset-less ISO 8601 times,
// which are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Client reads session rows from the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the API at baseURL. Requests are traced
// through the global OpenTelemetry provider.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Latest fetches the subject's most recent session row. It returns
// ErrNotFound when the backend has none.
func (c *Client) Latest(ctx context.Context, subjectID string) (*Record, error) {
	endpoint := fmt.Sprintf("%s/api/patients/%s/sessions/latest", c.baseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("latest session request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// The backend wraps its own "no row" 404 into a 500.
		if resp.StatusCode >= http.StatusInternalServerError && strings.Contains(string(body), noSessionsDetail) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest session API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode session row: %w", err)
	}
	return &rec, nil
}
