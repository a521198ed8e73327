// Package postgres provides a PostgreSQL-backed Store.
//
// Reservations run inside a transaction: lazy window rollover first, then a
// single conditional UPDATE that only matches while both quota ceilings still
// hold, so concurrent reservations for the same user can never both be
// admitted into the last slot. Safe for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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
	pool *pgxpool.Pool
}

// New creates a PostgreSQL-backed Store on top of a connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the required tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("credits/postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credit_accounts
			(user_id, tier, credits_used_today, credits_used_month,
			 day_window_start, month_window_start, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING`,
		a.ID.String(), string(a.Tier), a.CreditsUsedToday, a.CreditsUsedMonth,
		a.DayWindowStart, a.MonthWindowStart, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("credits/postgres: create account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error) {
	a := &account.Account{}
	var rawID, rawTier string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, tier, credits_used_today, credits_used_month,
		       day_window_start, month_window_start, created_at, updated_at
		FROM credit_accounts WHERE user_id = $1`,
		userID.String(),
	).Scan(&rawID, &rawTier, &a.CreditsUsedToday, &a.CreditsUsedMonth,
		&a.DayWindowStart, &a.MonthWindowStart, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: get account: %w", err)
	}

	a.ID, err = id.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: get account: %w", err)
	}
	a.Tier = tier.Tier(rawTier)
	return a, nil
}

func (s *Store) SetTier(ctx context.Context, userID id.UserID, tr tier.Tier) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_accounts SET tier = $1, updated_at = now() WHERE user_id = $2`,
		string(tr), userID.String(),
	)
	if err != nil {
		return fmt.Errorf("credits/postgres: set tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrUserNotFound
	}
	return nil
}

// Reserve performs the atomic check-and-reserve. The transaction first
// applies any due window rollover with guarded UPDATEs, then attempts a
// single conditional increment that fails to match when either ceiling would
// be exceeded.
func (s *Store) Reserve(ctx context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*store.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the row so tier read, rollover, and increment see one state.
	var rawTier string
	err = tx.QueryRow(ctx, `
		SELECT tier FROM credit_accounts WHERE user_id = $1 FOR UPDATE`,
		userID.String(),
	).Scan(&rawTier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: lock account: %w", err)
	}

	dayStart := account.StartOfDay(now)
	monthStart := account.StartOfMonth(now)

	// Lazy window rollover. A month boundary is also a day boundary, so the
	// day guard fires for both.
	tag, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET credits_used_today = 0, day_window_start = $1
		WHERE user_id = $2 AND day_window_start < $1`,
		dayStart, userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: day rollover: %w", err)
	}
	dayRolled := tag.RowsAffected() > 0

	tag, err = tx.Exec(ctx, `
		UPDATE credit_accounts SET credits_used_month = 0, month_window_start = $1
		WHERE user_id = $2 AND month_window_start < $1`,
		monthStart, userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: month rollover: %w", err)
	}
	monthRolled := tag.RowsAffected() > 0

	tr := tier.Tier(rawTier)
	pol := policies.PolicyFor(tr)

	res := &store.Reservation{
		Tier:        tr,
		Policy:      pol,
		DayRolled:   dayRolled,
		MonthRolled: monthRolled,
	}

	// Conditional increment: matches only while both ceilings hold. Cost 0
	// bypasses the ceilings outright; free tools never deny, even when the
	// counters sit above the limit after a tier downgrade.
	err = tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET credits_used_today = credits_used_today + $1,
		    credits_used_month = credits_used_month + $1,
		    updated_at = now()
		WHERE user_id = $2
		  AND ($1 = 0 OR $3 = -1 OR credits_used_today + $1 <= $3)
		  AND ($1 = 0 OR $4 = -1 OR credits_used_month + $1 <= $4)
		RETURNING credits_used_today, credits_used_month`,
		cost, userID.String(), pol.DailyLimit, pol.MonthlyLimit,
	).Scan(&res.DailyUsed, &res.MonthlyUsed)

	if errors.Is(err, pgx.ErrNoRows) {
		// Denied. Read the untouched counters to name the exhausted window;
		// the daily window wins when both are exhausted.
		err = tx.QueryRow(ctx, `
			SELECT credits_used_today, credits_used_month
			FROM credit_accounts WHERE user_id = $1`,
			userID.String(),
		).Scan(&res.DailyUsed, &res.MonthlyUsed)
		if err != nil {
			return nil, fmt.Errorf("credits/postgres: read denial state: %w", err)
		}

		if pol.DailyLimit != tier.Unlimited && res.DailyUsed+cost > pol.DailyLimit {
			res.Window = quota.WindowDaily
		} else {
			res.Window = quota.WindowMonthly
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("credits/postgres: commit denial: %w", err)
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: reserve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("credits/postgres: commit: %w", err)
	}

	res.Allowed = true
	return res, nil
}

func (s *Store) InsertUsage(ctx context.Context, entries []*usage.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO usage_entries
				(id, user_id, tool_type, credits_used, input_tokens,
				 output_tokens, processing_time_ms, success, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			e.ID.String(), e.UserID.String(), e.ToolType, e.CreditsUsed,
			e.InputTokens, e.OutputTokens, e.ProcessingTimeMs, e.Success, e.CreatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("credits/postgres: insert usage: %w", err)
		}
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	query := `
		SELECT id, user_id, tool_type, credits_used, input_tokens,
		       output_tokens, processing_time_ms, success, created_at
		FROM usage_entries WHERE user_id = $1`
	args := []any{userID.String()}

	if opts.ToolType != "" {
		args = append(args, opts.ToolType)
		query += fmt.Sprintf(" AND tool_type = $%d", len(args))
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !opts.Until.IsZero() {
		args = append(args, opts.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: query usage: %w", err)
	}
	defer rows.Close()

	var out []*usage.Entry
	for rows.Next() {
		e := &usage.Entry{}
		var rawID, rawUser string
		if err := rows.Scan(&rawID, &rawUser, &e.ToolType, &e.CreditsUsed,
			&e.InputTokens, &e.OutputTokens, &e.ProcessingTimeMs, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("credits/postgres: scan usage: %w", err)
		}
		if e.ID, err = id.ParseUsageEntryID(rawID); err != nil {
			return nil, fmt.Errorf("credits/postgres: scan usage: %w", err)
		}
		if e.UserID, err = id.ParseUserID(rawUser); err != nil {
			return nil, fmt.Errorf("credits/postgres: scan usage: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM usage_entries WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("credits/postgres: purge usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
