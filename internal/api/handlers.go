package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ptparser/internal/export"
	"ptparser/internal/pt"
)

// Source serves routes from a loaded extract. *pt.Parser implements it.
type Source interface {
	PublicTransports(ctx context.Context, gap float64) ([]pt.Route, error)
	PublicTransport(ctx context.Context, id uint64, gap float64) (pt.Route, bool, error)
	Len() int
	Path() string
}

type RouteHandler struct {
	src        Source
	logger     *zap.Logger
	defaultGap float64
}

func NewRouteHandler(logger *zap.Logger, src Source, defaultGap float64) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{src: src, logger: logger, defaultGap: defaultGap}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ListRoutesResponse is the JSON body of GET /api/routes
type ListRoutesResponse struct {
	Routes []pt.Route `json:"routes"`
	Count  int        `json:"count"`
	Gap    float64    `json:"gap"`
}

// Health handles GET /health
func (h *RouteHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"extract":   h.src.Path(),
		"relations": h.src.Len(),
		"timestamp": time.Now().UTC(),
	})
}

// ListRoutes handles GET /api/routes
// Optional query parameters: gap (metres), format (json|geojson), mode.
func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	gap, ok := h.gap(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil || (format != export.JSON && format != export.GeoJSON) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "format must be json or geojson",
			Details: map[string]interface{}{"format": r.URL.Query().Get("format")},
		})
		return
	}

	routes, err := h.src.PublicTransports(r.Context(), gap)
	if err != nil {
		h.fail(w, err, "Failed to extract routes")
		return
	}
	if mode := strings.TrimSpace(r.URL.Query().Get("mode")); mode != "" {
		kept := routes[:0]
		for _, rt := range routes {
			if rt.Mode() == mode {
				kept = append(kept, rt)
			}
		}
		routes = kept
	}

	if format == export.GeoJSON {
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		if err := export.Write(w, export.GeoJSON, routes); err != nil {
			h.logger.Warn("write geojson", zap.Error(err))
		}
		return
	}
	if routes == nil {
		routes = []pt.Route{}
	}
	writeJSON(w, http.StatusOK, ListRoutesResponse{Routes: routes, Count: len(routes), Gap: gap})
}

// GetRoute handles GET /api/routes/{id}
func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "id must be a relation id",
			Details: map[string]interface{}{"id": raw},
		})
		return
	}
	gap, ok := h.gap(w, r)
	if !ok {
		return
	}

	route, found, err := h.src.PublicTransport(r.Context(), id, gap)
	if err != nil {
		h.fail(w, err, "Failed to extract route")
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Route not found",
			Details: map[string]interface{}{"id": id},
		})
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *RouteHandler) gap(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("gap"))
	if raw == "" {
		return h.defaultGap, true
	}
	gap, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "gap must be a number of metres",
			Details: map[string]interface{}{"gap": raw},
		})
		return 0, false
	}
	return gap, true
}

func (h *RouteHandler) fail(w http.ResponseWriter, err error, msg string) {
	var cfgErr *pt.ConfigError
	if errors.As(err, &cfgErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   cfgErr.Error(),
			Details: map[string]interface{}{"field": cfgErr.Field},
		})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   msg,
		Details: map[string]interface{}{"internal": err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
