// Package plugin provides an extensible plugin system for the credit engine.
// Plugins can hook into lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnReservation is called after every check-and-reserve decision,
// allowed or denied.
type OnReservation interface {
	Plugin
	OnReservation(ctx context.Context, userID string, decision *quota.Decision) error
}

// OnQuotaExceeded is called when an admission check denies a reservation.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID string, window quota.Window, used, limit int64) error
}

// OnWindowRollover is called when a reservation rolls an expired window.
type OnWindowRollover interface {
	Plugin
	OnWindowRollover(ctx context.Context, userID string, window quota.Window) error
}

// ──────────────────────────────────────────────────
// Usage log hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called when a usage entry is accepted into the
// recorder buffer.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, entry *usage.Entry) error
}

// OnUsageFlushed is called when buffered usage entries are flushed to the
// store.
type OnUsageFlushed interface {
	Plugin
	OnUsageFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// OnUsagePurged is called when the retention sweep deletes old entries.
type OnUsagePurged interface {
	Plugin
	OnUsagePurged(ctx context.Context, count int64) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnTierChanged is called when an account moves between tiers.
type OnTierChanged interface {
	Plugin
	OnTierChanged(ctx context.Context, userID string, from, to tier.Tier) error
}
