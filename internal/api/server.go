package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/ingest"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

const (
	// gracefulShutdownTimeout bounds Close.
	gracefulShutdownTimeout = 10 * time.Second

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// HealthChecker is anything that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource provides the ingest counters.
type StatsSource interface {
	Stats() ingest.Snapshot
}

// Queries is the read side of the telemetry store.
type Queries interface {
	ListZones(ctx context.Context) ([]telemetry.Zone, error)
	RecentMeasurements(ctx context.Context, zoneID int64, limit int) ([]telemetry.Measurement, error)
}

// LatestReader returns the cached latest reading for a device.
type LatestReader interface {
	Latest(ctx context.Context, deviceID string) (telemetry.Measurement, error)
}

// Deps holds the server's dependencies. Stats and Logger are required.
type Deps struct {
	Config  config.HTTPConfig
	Logger  *logging.Logger
	Stats   StatsSource
	Queries Queries

	// Latest is optional; without it /devices/{id}/latest returns 404.
	Latest LatestReader

	// Checks are probed by /health, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP server.
type Server struct {
	cfg     config.HTTPConfig
	logger  *logging.Logger
	stats   StatsSource
	queries Queries
	latest  LatestReader
	checks  map[string]HealthChecker
	version string
	started time.Time

	server *http.Server
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Stats == nil {
		return nil, fmt.Errorf("stats source is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		stats:   deps.Stats,
		queries: deps.Queries,
		latest:  deps.Latest,
		checks:  deps.Checks,
		version: deps.Version,
		started: time.Now(),
	}, nil
}

// Start binds the listener and serves in the background. A bind failure is
// returned directly.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server listening", "address", s.server.Addr)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}
