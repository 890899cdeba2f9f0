package strava

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const athletePayload = `{"id":12345,"username":"jdoe","firstname":"Jane","lastname":"Doe","city":"Zurich","premium":true}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(context.Background(), "testtoken")
	c.BaseURL = srv.URL
	return c, srv
}

func TestGetAthlete(t *testing.T) {
	var gotAuth, gotAgent string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		assert.Equal(t, "/athlete", r.URL.Path)
		w.Write([]byte(athletePayload))
	}))

	a, err := c.GetAthlete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), a.ID)
	assert.Equal(t, "Jane", a.Firstname)
	assert.Equal(t, "Doe", a.Lastname)
	assert.Equal(t, "jdoe", a.Username)
	assert.Equal(t, "Bearer testtoken", gotAuth)
	assert.Equal(t, userAgent, gotAgent)
}

func TestGetActivitiesQueryAndRawBody(t *testing.T) {
	payload := `[{"id":101,"name":"Morning Run","start_date":"2024-01-15T10:30:00Z","distance":5012.3,"map":{"summary_polyline":"abc"}}]`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/athlete/activities", r.URL.Path)
		assert.Equal(t, "per_page=2&page=3", r.URL.RawQuery)
		w.Write([]byte(payload))
	}))

	activities, raw, err := c.GetActivities(context.Background(), 2, 3)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, int64(101), activities[0].ID)
	assert.Equal(t, "Morning Run", activities[0].Name)
	assert.Equal(t, "abc", activities[0].Map.SummaryPolyline)
	// the raw body is handed back untouched so it can be re-printed verbatim
	assert.Equal(t, payload, string(raw))
}

func TestGetActivitiesUnauthorized(t *testing.T) {
	requests := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Authorization Error"}`))
	}))

	_, _, err := c.GetActivities(context.Background(), 5, 1)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Authorization Error")
	assert.Contains(t, apiErr.Error(), "status=401")
	assert.Equal(t, 1, requests, "a failed request must not be retried")
}

func TestGetActivitiesMalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"`))
	}))

	_, _, err := c.GetActivities(context.Background(), 5, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestGetActivityStreams(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/42/streams", r.URL.Path)
		assert.Equal(t, "keys=latlng,time,altitude&key_by_type=true", r.URL.RawQuery)
		w.Write([]byte(`{
			"latlng": {"data": [[47.0, 8.0], [47.001, 8.001]]},
			"time": {"data": [0, 10]},
			"altitude": {"data": [430.5, 431.0]}
		}`))
	}))

	s, err := c.GetActivityStreams(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, s.Latlng)
	require.Len(t, s.Latlng.Data, 2)
	assert.Equal(t, [2]float64{47.0, 8.0}, s.Latlng.Data[0])
	require.NotNil(t, s.Time)
	assert.Equal(t, []int64{0, 10}, s.Time.Data)
	require.NotNil(t, s.Altitude)
	assert.Equal(t, 431.0, s.Altitude.Data[1])
}

func TestGetActivityStreamsMissingSeries(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time": {"data": [0, 10]}}`))
	}))

	s, err := c.GetActivityStreams(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, s.Latlng)
	assert.Nil(t, s.Altitude)
	require.NotNil(t, s.Time)
}

func TestAPIErrorIsWrapped(t *testing.T) {
	inner := &APIError{StatusCode: 404, Body: "Record Not Found"}
	wrapped := errors.Join(inner)
	var apiErr *APIError
	assert.True(t, errors.As(wrapped, &apiErr))
}
