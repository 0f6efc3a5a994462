// Package feed implements domain.Provider against an HTTP endpoint serving
// hazard or camera reports as a GeoJSON FeatureCollection of points.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client fetches point records for one source.
type Client struct {
	source     domain.Source
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a feed client for source. baseURL is the collection
// endpoint; the bounding box is passed as a bbox query parameter.
func NewClient(source domain.Source, baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		source: source,
		token:  token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("source", string(source)),
	}
}

// Fetch requests every record inside bounds. It never returns nil.
func (c *Client) Fetch(ctx context.Context, bounds domain.Viewport) domain.FetchResult {
	params := url.Values{
		"bbox": {fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.West, bounds.South, bounds.East, bounds.North)},
	}
	if c.token != "" {
		params.Set("access_token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.FetchFailed{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.FetchFailed{Err: fmt.Errorf("%s feed request: %w", c.source, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return domain.FetchRateLimited{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), domain.Now())}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.FetchFailed{Err: fmt.Errorf("%s feed error: status %d: %s", c.source, resp.StatusCode, body)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.FetchFailed{Err: fmt.Errorf("read response: %w", err)}
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.FetchFailed{Err: fmt.Errorf("decode feature collection: %w", err)}
	}

	return domain.FetchSuccess{Records: c.toRecords(fc)}
}

// toRecords converts point features. Features without an id or a point
// geometry are skipped.
func (c *Client) toRecords(fc *geojson.FeatureCollection) []domain.PointRecord {
	now := domain.Now()
	records := make([]domain.PointRecord, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		rec, err := c.toRecord(f, now)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed features", "count", skipped, "kept", len(records))
	}
	return records
}

var (
	errNoID       = errors.New("feature has no id")
	errNotAPoint  = errors.New("feature geometry is not a point")
	errOutOfRange = errors.New("feature coordinates out of range")
)

func (c *Client) toRecord(f *geojson.Feature, receivedAt time.Time) (domain.PointRecord, error) {
	id := featureID(f)
	if id == "" {
		return domain.PointRecord{}, errNoID
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return domain.PointRecord{}, errNotAPoint
	}
	if pt.Lat() < -90 || pt.Lat() > 90 || pt.Lon() < -180 || pt.Lon() > 180 {
		return domain.PointRecord{}, errOutOfRange
	}

	props := f.Properties
	category := domain.Category(stringProp(props, "category", "type"))
	if category == "" {
		category = c.defaultCategory()
	}
	return domain.PointRecord{
		ID:          string(c.source) + ":" + id,
		Source:      c.source,
		Category:    category,
		Position:    pt,
		Severity:    int(numberProp(props, "severity")),
		Description: stringProp(props, "description"),
		Confidence:  numberProp(props, "confidence"),
		ReceivedAt:  receivedAt,
	}, nil
}

// stringProp returns the first non-empty string property among keys.
// Mistyped values are ignored.
func stringProp(p geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if s, ok := p[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberProp(p geojson.Properties, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func (c *Client) defaultCategory() domain.Category {
	if c.source == domain.SourceCameras {
		return domain.CategorySpeedCamera
	}
	return domain.CategoryHazard
}

// featureID prefers the GeoJSON id member and falls back to an "id" property.
func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	if id, ok := f.Properties["id"].(float64); ok {
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return stringProp(f.Properties, "id")
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
