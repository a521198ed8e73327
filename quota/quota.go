// Package quota defines the outcome types of quota checks.
package quota

import (
	"time"

	"github.com/docustream/credits/id"
	"github.com/docustream/credits/tier"
)

// Window names the accounting window that produced a denial.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// Decision is the result of a check-and-reserve call.
//
// When Allowed is false, Message carries the human-readable denial naming the
// exhausted window and Window identifies it; the counters reflect the
// untouched pre-call state. When Allowed is true, the counters include the
// reservation that was just made and ReservationID identifies the admission
// for request tracing.
type Decision struct {
	Allowed        bool      `json:"allowed"`
	Message        string    `json:"message,omitempty"`
	Window         Window    `json:"window,omitempty"`
	ReservationID  string    `json:"reservation_id,omitempty"`
	Cost           int64     `json:"cost"`
	Tier           tier.Tier `json:"tier"`
	DailyUsed      int64     `json:"daily_used"`
	DailyLimit     int64     `json:"daily_limit"`
	MonthlyUsed    int64     `json:"monthly_used"`
	MonthlyLimit   int64     `json:"monthly_limit"`
	RemainingToday int64     `json:"remaining_today"`
}

// Snapshot is the read-side view of a user's current consumption, already
// normalized through the same window-rollover step the enforcer uses.
type Snapshot struct {
	UserID           id.UserID `json:"user_id"`
	Tier             tier.Tier `json:"tier"`
	DailyUsed        int64     `json:"daily_used"`
	DailyLimit       int64     `json:"daily_limit"`
	MonthlyUsed      int64     `json:"monthly_used"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	RemainingToday   int64     `json:"remaining_today"`
	RemainingMonth   int64     `json:"remaining_month"`
	DayWindowStart   time.Time `json:"day_window_start"`
	MonthWindowStart time.Time `json:"month_window_start"`
}

// Remaining computes limit - used, clamped at zero, with the unlimited
// sentinel passed through as -1.
func Remaining(limit, used int64) int64 {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
