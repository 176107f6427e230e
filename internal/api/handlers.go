package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/cache"
	"github.com/nerrad567/gray-logic-telemetry/internal/ingest"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

const (
	healthCheckTimeout = 2 * time.Second

	defaultMeasurementLimit = 50
	maxMeasurementLimit     = 1000
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	ingest.Snapshot
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// handleHealth probes every registered dependency. Any failure yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Snapshot:      s.stats.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "store not configured")
		return
	}

	zones, err := s.queries.ListZones(r.Context())
	if err != nil {
		s.logger.Error("listing zones", "error", err)
		writeInternalError(w, "failed to list zones")
		return
	}
	if zones == nil {
		zones = []telemetry.Zone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones, "count": len(zones)})
}

func (s *Server) handleZoneMeasurements(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "store not configured")
		return
	}

	zoneID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "zone id must be an integer")
		return
	}

	limit := defaultMeasurementLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxMeasurementLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxMeasurementLimit))
			return
		}
	}

	ms, err := s.queries.RecentMeasurements(r.Context(), zoneID, limit)
	if err != nil {
		s.logger.Error("querying measurements", "zone_id", zoneID, "error", err)
		writeInternalError(w, "failed to query measurements")
		return
	}
	if ms == nil {
		ms = []telemetry.Measurement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zone_id": zoneID, "measurements": ms, "count": len(ms)})
}

func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	if s.latest == nil {
		writeNotFound(w, "latest-reading cache not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	m, err := s.latest.Latest(r.Context(), id)
	if errors.Is(err, cache.ErrNotFound) {
		writeNotFound(w, "no recent reading for device")
		return
	}
	if err != nil {
		s.logger.Error("reading latest value", "device_id", id, "error", err)
		writeInternalError(w, "failed to read latest value")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
