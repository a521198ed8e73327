// Package store defines the unified storage contract for the credit system.
package store

import (
	"context"
	"time"

	"github.com/docustream/credits/account"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// Reservation is the raw outcome of an atomic reserve attempt, before the
// engine dresses it up as a quota.Decision.
//
// When Allowed is false, Window names the exhausted window (daily takes
// precedence when both would fail) and the counters carry the untouched
// values after rollover. When Allowed is true, the counters include the
// reserved cost.
type Reservation struct {
	Allowed     bool
	Window      quota.Window
	Tier        tier.Tier
	Policy      tier.Policy
	DailyUsed   int64
	MonthlyUsed int64
	DayRolled   bool
	MonthRolled bool
}

// Store is the unified storage interface for accounts and the usage log.
//
// Reserve is the one operation with a hard concurrency contract: the window
// rollover, the admission check against the policy resolved from the
// account's tier, and the counter increment must be a single atomic unit
// with respect to concurrent calls for the same user. Implementations use
// either a storage-level conditional increment or a lock held across the
// read-check-write sequence; a naive read-modify-write is a correctness bug.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error)
	SetTier(ctx context.Context, userID id.UserID, tr tier.Tier) error

	// Reserve atomically rolls over expired windows, checks the account's
	// tier policy, and on admission adds cost to both counters. cost is
	// already validated non-negative; cost 0 never denies. Returns
	// credits.ErrUserNotFound when the account does not exist.
	Reserve(ctx context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*Reservation, error)

	// Usage log methods
	InsertUsage(ctx context.Context, entries []*usage.Entry) error
	QueryUsage(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error)
	PurgeUsage(ctx context.Context, before time.Time) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
