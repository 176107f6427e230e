// Package api is the ingestor's operational HTTP surface.
//
// It exposes liveness and dependency health, the ingest counters, and a
// small read-only view of zones and their recent measurements:
//
//	GET /api/v1/health
//	GET /api/v1/stats
//	GET /api/v1/zones
//	GET /api/v1/zones/{id}/measurements?limit=N
//	GET /api/v1/devices/{id}/latest
//
// The server follows the same lifecycle as other components:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
