package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testClient(baseURL string) *Client {
	return &Client{
		token:      testToken,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    testMetrics(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Plan_Success(t *testing.T) {
	// A dense, nearly straight line that simplifies to its endpoints.
	line := orb.LineString{austin}
	for i := 1; i <= 10; i++ {
		line = append(line, orb.Point{austin[0], austin[1] + float64(i)*0.001})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "-97.743100,30.267200;-96.797000,32.776700")
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))

		resp := directionsResponse{
			Code: "Ok",
			Routes: []route{
				{Geometry: geojson.NewGeometry(line), Distance: 1110.5, Duration: 95.5},
				{Geometry: geojson.NewGeometry(orb.LineString{austin, dallas}), Distance: 300000, Duration: 10800},
			},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	routes, err := c.Plan(context.Background(), austin, dallas)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	best := routes[0]
	_, err = uuid.Parse(best.ID)
	require.NoError(t, err)
	assert.NotEqual(t, best.ID, routes[1].ID)
	assert.Equal(t, orb.LineString{line[0], line[len(line)-1]}, best.Polyline, "collinear vertices are simplified away")
	assert.InDelta(t, 1110.5, best.DistanceMeters, 1e-9)
	assert.Equal(t, 95500*time.Millisecond, best.Duration)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RouteRequests.WithLabelValues("success")), 1e-9)
}

func TestClient_Plan_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"No route found","routes":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Plan(context.Background(), austin, dallas)
	require.ErrorIs(t, err, domain.ErrNoRoute)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RouteRequests.WithLabelValues("empty")), 1e-9)
}

func TestClient_Plan_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized - Invalid Token"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Plan(context.Background(), austin, dallas)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, errors.Is(err, domain.ErrNoRoute))
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RouteRequests.WithLabelValues("error")), 1e-9)
}

func TestClient_Plan_InvalidCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"InvalidInput","message":"Coordinate is invalid"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Plan(context.Background(), austin, dallas)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidInput")
}

func TestClient_Plan_SkipsNonLineGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[
			{"geometry":{"type":"Point","coordinates":[-97.74,30.26]},"distance":1,"duration":1},
			{"distance":1,"duration":1}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Plan(context.Background(), austin, dallas)
	require.ErrorIs(t, err, domain.ErrNoRoute)
}

func TestClient_Plan_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.Plan(context.Background(), austin, dallas)
	require.Error(t, err)
}
