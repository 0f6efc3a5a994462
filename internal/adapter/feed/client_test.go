package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

const (
	headerContentType = "Content-Type"
	contentTypeGeo    = "application/geo+json"
)

var (
	fixedNow = time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)
	bounds   = domain.Viewport{West: -97.77, South: 30.25, East: -97.73, North: 30.29}
)

func TestMain(m *testing.M) {
	domain.SetClock(clockwork.NewFakeClockAt(fixedNow))
	m.Run()
}

func testClient(source domain.Source, baseURL string) *Client {
	return NewClient(source, baseURL, "feed-token", 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const hazardsBody = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "a1",
     "geometry": {"type": "Point", "coordinates": [-97.7431, 30.2672]},
     "properties": {"category": "accident", "severity": 4, "description": "two-car collision", "confidence": 0.9}},
    {"type": "Feature", "id": 17,
     "geometry": {"type": "Point", "coordinates": [-97.7500, 30.2700]},
     "properties": {"type": "police"}},
    {"type": "Feature",
     "geometry": {"type": "Point", "coordinates": [-97.7400, 30.2600]},
     "properties": {"category": "jam"}},
    {"type": "Feature", "id": "line",
     "geometry": {"type": "LineString", "coordinates": [[-97.74, 30.26], [-97.75, 30.27]]},
     "properties": {"category": "construction"}},
    {"type": "Feature", "id": "bad-props",
     "geometry": {"type": "Point", "coordinates": [-97.7450, 30.2650]},
     "properties": {"category": 12, "severity": "3"}}
  ]
}`

func TestClient_FetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-97.770000,30.250000,-97.730000,30.290000", r.URL.Query().Get("bbox"))
		assert.Equal(t, "feed-token", r.URL.Query().Get("access_token"))
		w.Header().Set(headerContentType, contentTypeGeo)
		_, _ = io.WriteString(w, hazardsBody)
	}))
	defer srv.Close()

	res := testClient(domain.SourceHazards, srv.URL).Fetch(context.Background(), bounds)
	ok, isSuccess := res.(domain.FetchSuccess)
	require.True(t, isSuccess, "got %T", res)
	require.Len(t, ok.Records, 3, "features without id or point geometry are skipped")

	a := ok.Records[0]
	assert.Equal(t, "hazards:a1", a.ID)
	assert.Equal(t, domain.SourceHazards, a.Source)
	assert.Equal(t, domain.CategoryAccident, a.Category)
	assert.Equal(t, orb.Point{-97.7431, 30.2672}, a.Position)
	assert.Equal(t, 4, a.Severity)
	assert.Equal(t, "two-car collision", a.Description)
	assert.InDelta(t, 0.9, a.Confidence, 1e-9)
	assert.Equal(t, fixedNow, a.ReceivedAt)

	assert.Equal(t, "hazards:17", ok.Records[1].ID, "numeric ids are accepted")
	assert.Equal(t, domain.CategoryPolice, ok.Records[1].Category)

	loose := ok.Records[2]
	assert.Equal(t, domain.CategoryHazard, loose.Category, "mistyped category falls back to the source default")
	assert.Equal(t, 3, loose.Severity)
}

func TestClient_CameraDefaultCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[
			{"type":"Feature","id":"c1","geometry":{"type":"Point","coordinates":[-97.74,30.27]},"properties":{}}]}`)
	}))
	defer srv.Close()

	res := testClient(domain.SourceCameras, srv.URL).Fetch(context.Background(), bounds)
	ok, isSuccess := res.(domain.FetchSuccess)
	require.True(t, isSuccess)
	require.Len(t, ok.Records, 1)
	assert.Equal(t, domain.CategorySpeedCamera, ok.Records[0].Category)
	assert.Equal(t, "cameras:c1", ok.Records[0].ID)
}

func TestClient_EmptyCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[]}`)
	}))
	defer srv.Close()

	res := testClient(domain.SourceHazards, srv.URL).Fetch(context.Background(), bounds)
	ok, isSuccess := res.(domain.FetchSuccess)
	require.True(t, isSuccess)
	assert.NotNil(t, ok.Records)
	assert.Empty(t, ok.Records)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := testClient(domain.SourceHazards, srv.URL).Fetch(context.Background(), bounds)
	rl, ok := res.(domain.FetchRateLimited)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, 45*time.Second, rl.RetryAfter)
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream exploded")
	}))
	defer srv.Close()

	res := testClient(domain.SourceHazards, srv.URL).Fetch(context.Background(), bounds)
	failed, ok := res.(domain.FetchFailed)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, failed.Error(), "status 500")
	assert.Contains(t, failed.Error(), "upstream exploded")
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[{`)
	}))
	defer srv.Close()

	res := testClient(domain.SourceHazards, srv.URL).Fetch(context.Background(), bounds)
	failed, ok := res.(domain.FetchFailed)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, failed.Error(), "decode feature collection")
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := testClient(domain.SourceHazards, url).Fetch(context.Background(), bounds)
	_, ok := res.(domain.FetchFailed)
	assert.True(t, ok, "got %T", res)
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := testClient(domain.SourceHazards, srv.URL).Fetch(ctx, bounds)
	failed, ok := res.(domain.FetchFailed)
	require.True(t, ok, "got %T", res)
	assert.True(t, errors.Is(failed, context.Canceled))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"120", 2 * time.Minute},
		{"0", 0},
		{"soon", 0},
		{fixedNow.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{fixedNow.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in, fixedNow))
		})
	}
}
