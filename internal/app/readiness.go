package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a store capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessCheck combines the fast- and durable-store pings into a
// single readiness check.
func BuildReadinessCheck(db, fast Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("db not configured")
		}
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if fast == nil {
			return fmt.Errorf("fast store not configured")
		}
		if err := fast.Ping(ctx); err != nil {
			return fmt.Errorf("fast store: %w", err)
		}
		return nil
	}
}
