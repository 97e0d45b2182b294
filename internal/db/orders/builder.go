package ordersdb

import (
	"context"
	"database/sql"
	"log"
	"time"

	"orderline/internal/orders"
)

// BuildStore wires an orders.Store from config (Postgres DSN and logger). If
// the DSN is empty or initialization fails, it falls back to the in-memory
// store. The returned cleanup closes any external resources (e.g., DB
// connections).
func BuildStore(ctx context.Context, dsn string, logf func(format string, args ...any)) (orders.Store, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var store orders.Store = orders.NewMemoryStore()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory store: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pg, err := NewPostgresStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory store: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres order store enabled")
				store = pg
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return store, cleanup
}
