package database

import (
	"context"
	stdsql "database/sql"
	"time"
)

// HealthStatus reports connectivity and pool statistics.
type HealthStatus struct {
	Reachable    bool          `json:"reachable"`
	Latency      time.Duration `json:"latency"`
	OpenConns    int           `json:"open_conns"`
	InUse        int           `json:"in_use"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// Health pings the database and collects pool statistics.
func Health(ctx context.Context, db *stdsql.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	stats := db.Stats()

	status := HealthStatus{
		Reachable:    err == nil,
		Latency:      time.Since(start),
		OpenConns:    stats.OpenConnections,
		InUse:        stats.InUse,
		WaitDuration: stats.WaitDuration,
	}
	return status, err
}
