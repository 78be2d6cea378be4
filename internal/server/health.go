package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ComponentStatus represents the health of an individual dependency.
type ComponentStatus string

const (
	ComponentStatusUp   ComponentStatus = "up"
	ComponentStatusDown ComponentStatus = "down"
)

// Health is the health check response.
type Health struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentStatus `json:"components"`
}

// healthHandler reports liveness plus the state of the database and
// object storage.
func (cfg Config) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]ComponentStatus{
			"database":       ComponentStatusUp,
			"object_storage": ComponentStatusUp,
		}
		status := "ok"

		if err := cfg.DB.PingContext(ctx); err != nil {
			components["database"] = ComponentStatusDown
			status = "degraded"
		}
		if exists, err := cfg.Minio.BucketExists(ctx, cfg.Bucket); err != nil || !exists {
			components["object_storage"] = ComponentStatusDown
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(Health{
			Status:     status,
			Timestamp:  time.Now().UTC(),
			Version:    cfg.Build.Version,
			Components: components,
		})
	})
}
