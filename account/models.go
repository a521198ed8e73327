// Package account defines the per-user credit counters and their rolling
// accounting windows.
package account

import (
	"time"

	"github.com/docustream/credits/id"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/types"
)

// Account holds the durable credit counters for one user.
//
// CreditsUsedToday and CreditsUsedMonth accrue within independent rolling
// windows and are only ever incremented, except for the single reset that
// happens when the corresponding window rolls over. DayWindowStart and
// MonthWindowStart mark when the current counters began accruing; rollover
// is detected by comparing them against the current wall clock, never by
// re-deriving "today" ad hoc at call sites.
type Account struct {
	types.Entity
	ID               id.UserID `json:"id"`
	Tier             tier.Tier `json:"tier"`
	CreditsUsedToday int64     `json:"credits_used_today"`
	CreditsUsedMonth int64     `json:"credits_used_month"`
	DayWindowStart   time.Time `json:"day_window_start"`
	MonthWindowStart time.Time `json:"month_window_start"`
}

// New creates an account on the given tier with both windows anchored at now.
func New(userID id.UserID, tr tier.Tier, now time.Time) *Account {
	return &Account{
		Entity:           types.NewEntity(),
		ID:               userID,
		Tier:             tr,
		DayWindowStart:   StartOfDay(now),
		MonthWindowStart: StartOfMonth(now),
	}
}

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfMonth returns the first instant of the UTC month containing t.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Normalize rolls over any expired window in place and reports which windows
// rolled. The two rollovers are independent: a day rollover never touches the
// month counter and vice versa. Both the quota enforcer and the usage
// reporter route through this single step so that reads right after a
// boundary never observe stale pre-rollover counters.
func (a *Account) Normalize(now time.Time) (dayRolled, monthRolled bool) {
	dayStart := StartOfDay(now)
	if a.DayWindowStart.Before(dayStart) {
		a.CreditsUsedToday = 0
		a.DayWindowStart = dayStart
		dayRolled = true
	}

	monthStart := StartOfMonth(now)
	if a.MonthWindowStart.Before(monthStart) {
		a.CreditsUsedMonth = 0
		a.MonthWindowStart = monthStart
		monthRolled = true
	}

	return dayRolled, monthRolled
}

// Clone returns a deep copy, used by stores and read paths that must not
// mutate shared state.
func (a *Account) Clone() *Account {
	copied := *a
	return &copied
}
