// Package memory provides an in-memory Store for tests and single-process
// deployments. Reservations are serialized by the store mutex, which is held
// across the whole read-check-write sequence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	credits "github.com/docustream/credits"
	"github.com/docustream/credits/account"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/store"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts map[string]*account.Account

	// Usage log storage
	entries []usage.Entry
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*account.Account),
		entries:  make([]usage.Entry, 0),
	}
}

// Account Store implementation

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.accounts[a.ID.String()] = a.Clone()
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID id.UserID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[userID.String()]; ok {
		return a.Clone(), nil
	}
	return nil, credits.ErrUserNotFound
}

func (s *Store) SetTier(_ context.Context, userID id.UserID, tr tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID.String()]
	if !ok {
		return credits.ErrUserNotFound
	}
	a.Tier = tr
	a.Touch()
	return nil
}

// Reserve holds the store mutex across rollover, admission check, and
// increment, so two concurrent calls for the same user can never both pass a
// check that only one of them fits under.
func (s *Store) Reserve(_ context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*store.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID.String()]
	if !ok {
		return nil, credits.ErrUserNotFound
	}

	dayRolled, monthRolled := a.Normalize(now)
	pol := policies.PolicyFor(a.Tier)

	res := &store.Reservation{
		Tier:        a.Tier,
		Policy:      pol,
		DayRolled:   dayRolled,
		MonthRolled: monthRolled,
	}

	// cost 0 bypasses admission entirely; free tools never deny.
	if cost > 0 {
		if pol.DailyLimit != tier.Unlimited && a.CreditsUsedToday+cost > pol.DailyLimit {
			res.Window = quota.WindowDaily
			res.DailyUsed = a.CreditsUsedToday
			res.MonthlyUsed = a.CreditsUsedMonth
			return res, nil
		}
		if pol.MonthlyLimit != tier.Unlimited && a.CreditsUsedMonth+cost > pol.MonthlyLimit {
			res.Window = quota.WindowMonthly
			res.DailyUsed = a.CreditsUsedToday
			res.MonthlyUsed = a.CreditsUsedMonth
			return res, nil
		}
	}

	a.CreditsUsedToday += cost
	a.CreditsUsedMonth += cost
	a.Touch()

	res.Allowed = true
	res.DailyUsed = a.CreditsUsedToday
	res.MonthlyUsed = a.CreditsUsedMonth
	return res, nil
}

// Usage Store implementation

func (s *Store) InsertUsage(_ context.Context, entries []*usage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.entries = append(s.entries, *e)
	}
	return nil
}

func (s *Store) QueryUsage(_ context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*usage.Entry, 0)
	for i := range s.entries {
		e := s.entries[i]
		if e.UserID.String() != userID.String() {
			continue
		}
		if opts.ToolType != "" && e.ToolType != opts.ToolType {
			continue
		}
		if !opts.Since.IsZero() && e.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && !e.CreatedAt.Before(opts.Until) {
			continue
		}
		copied := e
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	// Apply limit/offset
	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], nil
}

func (s *Store) PurgeUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	kept := make([]usage.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			count++
		} else {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return count, nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
