package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

// simplifyThreshold is the Douglas-Peucker tolerance in degrees (~1 m).
const simplifyThreshold = 1e-5

// Client implements domain.RoutePlanner using the Mapbox Directions API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox directions client for the driving profile.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/directions/v5/mapbox/driving",
		metrics: metrics,
		logger:  logger,
	}
}

// Plan returns candidate routes from origin to destination, best first.
func (c *Client) Plan(ctx context.Context, origin, destination orb.Point) ([]domain.Route, error) {
	// Mapbox uses lon,lat order, which matches orb.Point.
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", origin.Lon(), origin.Lat(), destination.Lon(), destination.Lat())
	params := url.Values{
		"access_token": {c.token},
		"geometries":   {"geojson"},
		"overview":     {"full"},
		"alternatives": {"true"},
	}

	start := time.Now()
	routes, err := c.doRequest(ctx, c.baseURL+"/"+url.PathEscape(coords)+"?"+params.Encode())
	c.metrics.RouteAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.RouteRequests.WithLabelValues("error").Inc()
		c.logger.Warn("directions request failed", "error", err)
		return nil, err
	case len(routes) == 0:
		c.metrics.RouteRequests.WithLabelValues("empty").Inc()
		return nil, domain.ErrNoRoute
	}
	c.metrics.RouteRequests.WithLabelValues("success").Inc()
	return routes, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.Route, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if dr.Code != "Ok" {
		if dr.Code == "NoRoute" || dr.Code == "NoSegment" {
			return nil, nil
		}
		return nil, fmt.Errorf("mapbox API error: %s: %s", dr.Code, dr.Message)
	}

	simplifier := simplify.DouglasPeucker(simplifyThreshold)
	routes := make([]domain.Route, 0, len(dr.Routes))
	for _, r := range dr.Routes {
		if r.Geometry == nil {
			continue
		}
		line, ok := r.Geometry.Geometry().(orb.LineString)
		if !ok || len(line) < 2 {
			continue
		}
		routes = append(routes, domain.Route{
			ID:             uuid.NewString(),
			Polyline:       simplifier.LineString(line.Clone()),
			DistanceMeters: r.Distance,
			Duration:       time.Duration(r.Duration * float64(time.Second)),
		})
	}
	return routes, nil
}

// Mapbox API response types.

type directionsResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Routes  []route `json:"routes"`
}

type route struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Distance float64           `json:"distance"` // metres
	Duration float64           `json:"duration"` // seconds
}
