package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"pulse/internal/analytics"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	// LastPass is the newest published aggregation pass, if any.
	LastPass *analytics.AggregationPass `json:"last_pass,omitempty"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	db := ctx.DB()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	} else {
		pass, found, err := analytics.NewStore(db, ctx.Logger).LatestPass()
		if err != nil {
			ctx.Logger.Warn("Could not read latest pass", slog.Any("error", err))
		} else if found {
			health.LastPass = pass
		}
	}

	health.DBStatus = dbStatus
	if dbStatus != "ok" {
		health.Status = "degraded"
	}
	return ctx.JSON(health)
}
