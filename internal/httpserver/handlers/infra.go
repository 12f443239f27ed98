package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/marqd/marqd/internal/httpserver/deps"
)

type componentStatus struct {
	OK          bool   `json:"ok"`
	Collections *int   `json:"collections,omitempty"`
	SeededRows  *int   `json:"seeded_rows,omitempty"`
	LastImport  string `json:"last_import,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Error       string `json:"error,omitempty"`
}

type infraResponse struct {
	ServiceMode string                     `json:"service_mode"`
	Components  map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		count := d.Collections.Count()
		components := map[string]componentStatus{
			"redis": checkRedis(d),
			"collections": {
				OK:          true,
				Collections: &count,
				Mode:        "per-owner",
			},
			"seed": checkSeed(d),
		}

		response := infraResponse{
			ServiceMode: determineServiceMode(components),
			Components:  components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineServiceMode(components map[string]componentStatus) string {
	// Redis carries sessions, bookmarks and the change feed: without it
	// nothing works.
	if redis, exists := components["redis"]; exists && !redis.OK {
		return "critical"
	}
	if seed, exists := components["seed"]; exists && !seed.OK {
		return "degraded"
	}
	return "operational"
}

func checkRedis(d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     false,
			Mode:   "down",
			Impact: "sessions-and-bookmarks-unavailable",
			Error:  "client not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "down",
			Impact: "sessions-and-bookmarks-unavailable",
			Error:  "timeout",
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "none",
		Error:  "none",
	}
}

func checkSeed(d deps.Deps) componentStatus {
	if d.Seed == nil {
		return componentStatus{
			OK:   true,
			Mode: "disabled",
		}
	}

	lastImport := d.Seed.LastImport()
	lastImportStr := "never"
	ok := !lastImport.IsZero()
	if ok {
		lastImportStr = lastImport.Format("2006-01-02 15:04:05")
	}
	seeded := d.Seed.ImportedCount()

	return componentStatus{
		OK:         ok,
		SeededRows: &seeded,
		LastImport: lastImportStr,
	}
}
