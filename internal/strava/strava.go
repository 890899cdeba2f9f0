// Package strava is a small typed client for the parts of the Strava v3 API
// this project uses: the authenticated athlete, the activity list, and
// per-activity streams.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// BaseURL is the root of the Strava v3 REST API.
	BaseURL = "https://www.strava.com/api/v3"

	userAgent = "strava-tiles/0.1"
)

// Athlete is the authenticated athlete's profile. Only the fields this
// program displays are decoded; the rest of the payload is ignored.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	City      string `json:"city"`
}

// ActivitySummary is one entry of the athlete's activity list.
type ActivitySummary struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Distance  float64     `json:"distance"`
	StartDate string      `json:"start_date"`
	Map       ActivityMap `json:"map"`
}

// ActivityMap carries the encoded polyline summaries of an activity.
type ActivityMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// Stream is one data series of an activity, as returned with key_by_type=true.
type Stream[T any] struct {
	Data []T `json:"data"`
}

// StreamSet holds the streams this program requests. Absent streams are nil.
type StreamSet struct {
	Latlng   *Stream[[2]float64] `json:"latlng"`
	Time     *Stream[int64]      `json:"time"`
	Altitude *Stream[float64]    `json:"altitude"`
}

// APIError is a non-2xx response from the API, kept with its status code and
// raw body for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
	Hint       string
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("strava: request failed: status=%d body=%s", e.StatusCode, e.Body)
	if e.Hint != "" {
		s += "\nHint: " + e.Hint
	}
	return s
}

// Client issues bearer-authenticated requests against the Strava API. The
// zero value is not usable; construct it with NewClient.
type Client struct {
	// BaseURL may be overridden before the first request, e.g. to point at
	// a test server.
	BaseURL string

	httpClient *http.Client
}

// NewClient builds a client whose requests carry the given access token.
func NewClient(ctx context.Context, accessToken string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return &Client{
		BaseURL:    BaseURL,
		httpClient: oauth2.NewClient(ctx, ts),
	}
}

// get runs a GET request and decodes the 2xx response body into v (unless v
// is nil). The raw body is returned so callers can re-print it verbatim.
// rawQuery is appended as-is to keep the parameter order the API docs use.
func (c *Client) get(ctx context.Context, path, rawQuery, hint401 string, v any) ([]byte, error) {
	url := c.BaseURL + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: reading response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusUnauthorized {
			apiErr.Hint = hint401
		}
		return nil, fmt.Errorf("GET %s: %w", path, apiErr)
	}
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("GET %s: decoding response: %w", path, err)
		}
	}
	return body, nil
}

// GetAthlete fetches the authenticated athlete's profile.
func (c *Client) GetAthlete(ctx context.Context) (*Athlete, error) {
	var a Athlete
	hint := "401 means the token is invalid or expired, or scopes are missing. Ensure you authorized with at least 'read'."
	if _, err := c.get(ctx, "/athlete", "", hint, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActivities fetches one page of the athlete's activity list. The raw
// response body is returned alongside the decoded summaries so the caller
// can print the JSON exactly as the API sent it.
func (c *Client) GetActivities(ctx context.Context, perPage, page int) ([]ActivitySummary, []byte, error) {
	var activities []ActivitySummary
	query := fmt.Sprintf("per_page=%d&page=%d", perPage, page)
	hint := "401 usually means the token lacks required scopes (e.g. 'activity:read'), is expired, or invalid. Regenerate via OAuth with correct scopes."
	body, err := c.get(ctx, "/athlete/activities", query, hint, &activities)
	if err != nil {
		return nil, nil, err
	}
	return activities, body, nil
}

// GetActivityStreams fetches the latlng, time and altitude streams of one
// activity, keyed by stream type.
func (c *Client) GetActivityStreams(ctx context.Context, activityID int64) (*StreamSet, error) {
	var s StreamSet
	path := fmt.Sprintf("/activities/%d/streams", activityID)
	query := "keys=latlng,time,altitude&key_by_type=true"
	if _, err := c.get(ctx, path, query, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
