package strava

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/stravasync/internal/ratelimit"
)

func TestExchangeReturnsRotatedToken(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"client_id":     r.PostFormValue("client_id"),
			"grant_type":    r.PostFormValue("grant_type"),
			"refresh_token": r.PostFormValue("refresh_token"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-fresh","refresh_token":"rt-rotated","expires_at":1752470000,"athlete":{"id":42,"firstname":"Alice","lastname":"Rider"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	token, err := c.Exchange(context.Background(), "rt-old")
	require.NoError(t, err)

	require.Equal(t, "at-fresh", token.AccessToken)
	require.Equal(t, "rt-rotated", token.RefreshToken)
	require.NotNil(t, token.Athlete)
	require.Equal(t, int64(42), token.Athlete.ID)
	require.Equal(t, map[string]string{
		"client_id":     "client-id",
		"grant_type":    "refresh_token",
		"refresh_token": "rt-old",
	}, gotForm)
}

func TestExchangeRejectionIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad Request","errors":[{"field":"refresh_token","code":"invalid"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Exchange(context.Background(), "rt-revoked")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	require.Contains(t, authErr.Body, "invalid")
}

func TestExchangeEmptyAccessTokenIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"refresh_token":"rt"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Exchange(context.Background(), "rt-old")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestRetryOnServerErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":42,"firstname":"Alice"}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv.URL)
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	profile, err := c.FetchAthlete(context.Background(), "at")
	require.NoError(t, err)
	require.Equal(t, int64(42), profile.ID)
	require.Equal(t, int32(3), calls.Load())
	// Doubling delay: 5s then 10s.
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, slept)
}

func TestRetriesExhaustAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleep = func(time.Duration) {}

	_, err := c.FetchAthlete(context.Background(), "at")
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 5 attempts")
	require.Equal(t, int32(5), calls.Load())
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	var governorSlept []time.Duration
	gov := ratelimit.NewGovernor(2*time.Second,
		[]ratelimit.Window{{Ceiling: 100, Length: 15 * time.Minute}},
		ratelimit.WithLogger(log.New(testWriter{t}, "", 0)),
		ratelimit.WithClock(time.Now, func(d time.Duration) { governorSlept = append(governorSlept, d) }),
	)
	c := newTestClientWithGovernor(t, srv.URL, gov)

	_, err := c.FetchAthlete(context.Background(), "at")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	// Retry-After plus the 2s safety buffer goes through the governor.
	require.Contains(t, governorSlept, 122*time.Second)
}

func TestRateLimitFallsBackWithoutRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	var governorSlept []time.Duration
	gov := ratelimit.NewGovernor(2*time.Second,
		[]ratelimit.Window{{Ceiling: 100, Length: 15 * time.Minute}},
		ratelimit.WithLogger(log.New(testWriter{t}, "", 0)),
		ratelimit.WithClock(time.Now, func(d time.Duration) { governorSlept = append(governorSlept, d) }),
	)
	c := newTestClientWithGovernor(t, srv.URL, gov)

	_, err := c.FetchAthlete(context.Background(), "at")
	require.NoError(t, err)
	require.Contains(t, governorSlept, 62*time.Second)
}

func TestClientErrorStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchAthlete(context.Background(), "at")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL)
	c.sleep = func(time.Duration) { cancel() }

	_, err := c.FetchAthlete(ctx, "at")
	require.True(t, errors.Is(err, context.Canceled))
}

func TestListActivitiesWalksPagesUntilShortPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		require.Equal(t, "Bearer at-alice", r.Header.Get("Authorization"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			w.Write([]byte(`[{"id":101,"name":"a"},{"id":102,"name":"b"}]`))
		case "2":
			w.Write([]byte(`[{"id":103,"name":"c"}]`)) // short page ends the walk
		default:
			t.Fatalf("unexpected page %s", page)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	after := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	acts, err := c.ListActivities(context.Background(), "at-alice", after, time.Time{}, 2)
	require.NoError(t, err)

	require.Len(t, acts, 3)
	require.Equal(t, int64(101), acts[0].ID)
	require.Equal(t, int64(103), acts[2].ID)
	require.Equal(t, []string{"1", "2"}, pages)
}

func TestListActivitiesStopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[{"id":101},{"id":102}]`)) // exactly perPage, forces another fetch
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	acts, err := c.ListActivities(context.Background(), "at", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
}

func TestListActivitiesSendsUnixCursors(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"after":    r.URL.Query().Get("after"),
			"before":   r.URL.Query().Get("before"),
			"per_page": r.URL.Query().Get("per_page"),
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	after := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.ListActivities(context.Background(), "at", after, before, 100)
	require.NoError(t, err)

	require.Equal(t, "1748736000", query["after"])
	require.Equal(t, "1751328000", query["before"])
	require.Equal(t, "100", query["per_page"])
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	gov := ratelimit.NewGovernor(2*time.Second,
		[]ratelimit.Window{{Ceiling: 100, Length: 15 * time.Minute}},
		ratelimit.WithLogger(log.New(testWriter{t}, "", 0)),
		ratelimit.WithClock(time.Now, func(time.Duration) {}),
	)
	return newTestClientWithGovernor(t, baseURL, gov)
}

func newTestClientWithGovernor(t *testing.T, baseURL string, gov *ratelimit.Governor) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      baseURL,
		MaxRetries:   5,
		InitialSleep: 5 * time.Second,
	}, gov, WithLogger(log.New(testWriter{t}, "", 0)))
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
