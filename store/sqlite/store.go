// Package sqlite provides a SQLite-backed Store for single-node deployments.
//
// SQLite serializes writers, so the reservation transaction performs a plain
// read-check-write; two transactions can never interleave on the same row.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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
	db *gorm.DB
}

// New opens (or creates) the SQLite database at path.
func New(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Migrate(_ context.Context) error {
	if err := s.db.AutoMigrate(&accountRow{}, &usageRow{}); err != nil {
		return fmt.Errorf("credits/sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	row := toRow(a)
	err := s.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/sqlite: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: get account: %w", err)
	}
	return fromRow(&row)
}

func (s *Store) SetTier(ctx context.Context, userID id.UserID, tr tier.Tier) error {
	res := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("user_id = ?", userID.String()).
		Updates(map[string]any{"tier": string(tr), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("credits/sqlite: set tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return credits.ErrUserNotFound
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*store.Reservation, error) {
	var res *store.Reservation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row accountRow
		if err := tx.First(&row, "user_id = ?", userID.String()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return credits.ErrUserNotFound
			}
			return fmt.Errorf("credits/sqlite: load account: %w", err)
		}

		a, err := fromRow(&row)
		if err != nil {
			return err
		}

		dayRolled, monthRolled := a.Normalize(now)
		pol := policies.PolicyFor(a.Tier)

		res = &store.Reservation{
			Tier:        a.Tier,
			Policy:      pol,
			DayRolled:   dayRolled,
			MonthRolled: monthRolled,
		}

		allowed := true
		if cost > 0 {
			if pol.DailyLimit != tier.Unlimited && a.CreditsUsedToday+cost > pol.DailyLimit {
				res.Window = quota.WindowDaily
				allowed = false
			} else if pol.MonthlyLimit != tier.Unlimited && a.CreditsUsedMonth+cost > pol.MonthlyLimit {
				res.Window = quota.WindowMonthly
				allowed = false
			}
		}

		if allowed {
			a.CreditsUsedToday += cost
			a.CreditsUsedMonth += cost
			a.Touch()
			res.Allowed = true
		}
		res.DailyUsed = a.CreditsUsedToday
		res.MonthlyUsed = a.CreditsUsedMonth

		// Persist rollover even on denial so window starts stay current.
		if allowed || dayRolled || monthRolled {
			if err := tx.Save(toRow(a)).Error; err != nil {
				return fmt.Errorf("credits/sqlite: save account: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) InsertUsage(ctx context.Context, entries []*usage.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]usageRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, usageRow{
			ID:               e.ID.String(),
			UserID:           e.UserID.String(),
			ToolType:         e.ToolType,
			CreditsUsed:      e.CreditsUsed,
			InputTokens:      e.InputTokens,
			OutputTokens:     e.OutputTokens,
			ProcessingTimeMs: e.ProcessingTimeMs,
			Success:          e.Success,
			CreatedAt:        e.CreatedAt,
		})
	}

	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("credits/sqlite: insert usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	q := s.db.WithContext(ctx).Model(&usageRow{}).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC")

	if opts.ToolType != "" {
		q = q.Where("tool_type = ?", opts.ToolType)
	}
	if !opts.Since.IsZero() {
		q = q.Where("created_at >= ?", opts.Since)
	}
	if !opts.Until.IsZero() {
		q = q.Where("created_at < ?", opts.Until)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var rows []usageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credits/sqlite: query usage: %w", err)
	}

	out := make([]*usage.Entry, 0, len(rows))
	for i := range rows {
		e, err := entryFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&usageRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("credits/sqlite: purge usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func toRow(a *account.Account) *accountRow {
	return &accountRow{
		UserID:           a.ID.String(),
		Tier:             string(a.Tier),
		CreditsUsedToday: a.CreditsUsedToday,
		CreditsUsedMonth: a.CreditsUsedMonth,
		DayWindowStart:   a.DayWindowStart,
		MonthWindowStart: a.MonthWindowStart,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func fromRow(row *accountRow) (*account.Account, error) {
	userID, err := id.ParseUserID(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: bad user id %q: %w", row.UserID, err)
	}
	a := &account.Account{
		ID:               userID,
		Tier:             tier.Tier(row.Tier),
		CreditsUsedToday: row.CreditsUsedToday,
		CreditsUsedMonth: row.CreditsUsedMonth,
		DayWindowStart:   row.DayWindowStart.UTC(),
		MonthWindowStart: row.MonthWindowStart.UTC(),
	}
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return a, nil
}

func entryFromRow(row *usageRow) (*usage.Entry, error) {
	entryID, err := id.ParseUsageEntryID(row.ID)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: bad entry id %q: %w", row.ID, err)
	}
	userID, err := id.ParseUserID(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: bad user id %q: %w", row.UserID, err)
	}
	return &usage.Entry{
		ID:               entryID,
		UserID:           userID,
		ToolType:         row.ToolType,
		CreditsUsed:      row.CreditsUsed,
		InputTokens:      row.InputTokens,
		OutputTokens:     row.OutputTokens,
		ProcessingTimeMs: row.ProcessingTimeMs,
		Success:          row.Success,
		CreatedAt:        row.CreatedAt,
	}, nil
}
