package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/engine"
	"github.com/couchcryptid/hazard-sync/internal/geo"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var errBadRequest = errors.New("bad request")

type handlers struct {
	engine Engine
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// recordsResponse is the wire form of a source's visible record set.
type recordsResponse struct {
	Source    domain.Source        `json:"source"`
	Viewport  domain.Viewport      `json:"viewport"`
	Records   []domain.PointRecord `json:"records"`
	Stale     bool                 `json:"stale"`
	Error     string               `json:"error,omitempty"`
	FromCache bool                 `json:"from_cache"`
	UpdatedAt *time.Time           `json:"updated_at,omitempty"`
}

type routeRequest struct {
	Destination *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"destination"`
}

func (h *handlers) putViewport(w http.ResponseWriter, r *http.Request) {
	var v domain.Viewport
	if err := decodeJSON(w, r, &v); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SetViewport(r.Context(), v); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) postPosition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	s, err := domain.ParsePositionSample(body, domain.Now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.PushSample(r.Context(), s); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) getMotion(w http.ResponseWriter, r *http.Request) {
	mv, err := h.engine.Motion(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, mv)
}

func (h *handlers) getRecords(w http.ResponseWriter, r *http.Request) {
	src, err := domain.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.engine.Records(r.Context(), src)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
		body, err := recordsToGeoJSON(u.Records).MarshalJSON()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		_, _ = w.Write(body)
		return
	}

	resp := recordsResponse{
		Source:    u.Source,
		Viewport:  u.Viewport,
		Records:   u.Records,
		Stale:     u.Stale(),
		FromCache: u.FromCache,
	}
	if u.Err != nil {
		resp.Error = u.Err.Error()
	}
	if !u.At.IsZero() {
		at := u.At
		resp.UpdatedAt = &at
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) getClusters(w http.ResponseWriter, r *http.Request) {
	src, err := domain.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.engine.Clusters(r.Context(), src)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}

func (h *handlers) postRefresh(w http.ResponseWriter, r *http.Request) {
	src, err := domain.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.RefreshSource(r.Context(), src); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) getRoute(w http.ResponseWriter, r *http.Request) {
	rv, err := h.engine.Route(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, rv)
}

func (h *handlers) postRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Destination == nil {
		h.writeError(w, r, fmt.Errorf("%w: destination is required", errBadRequest))
		return
	}
	if !geo.ValidLatLon(req.Destination.Lat, req.Destination.Lon) {
		h.writeError(w, r, fmt.Errorf("%w: destination out of range", errBadRequest))
		return
	}

	rv, err := h.engine.RequestRoute(r.Context(), orb.Point{req.Destination.Lon, req.Destination.Lat})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, rv)
}

func (h *handlers) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearRoute(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain and engine errors onto HTTP status codes.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	}
	sharedobs.WriteJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidViewport),
		errors.Is(err, domain.ErrInvalidSample),
		errors.Is(err, domain.ErrMalformedSample):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownSource),
		errors.Is(err, engine.ErrSourceDisabled),
		errors.Is(err, domain.ErrNoRoute):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOutOfOrder),
		errors.Is(err, engine.ErrNoFix),
		errors.Is(err, engine.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, engine.ErrRoutingDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// recordsToGeoJSON renders records as a point FeatureCollection.
func recordsToGeoJSON(records []domain.PointRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		f := geojson.NewFeature(rec.Position)
		f.ID = rec.ID
		f.Properties["source"] = string(rec.Source)
		f.Properties["category"] = string(rec.Category)
		if rec.Severity != 0 {
			f.Properties["severity"] = rec.Severity
		}
		if rec.Description != "" {
			f.Properties["description"] = rec.Description
		}
		if rec.Confidence != 0 {
			f.Properties["confidence"] = rec.Confidence
		}
		f.Properties["received_at"] = rec.ReceivedAt.Format(time.RFC3339)
		fc.Append(f)
	}
	return fc
}
