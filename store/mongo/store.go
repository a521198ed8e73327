// Package mongo provides a MongoDB-backed Store.
//
// Single-document updates are atomic in MongoDB, so the reservation runs as
// a FindOneAndUpdate whose filter only matches while both quota ceilings
// still hold. No multi-document transaction is required.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	credits "github.com/docustream/credits"
	"github.com/docustream/credits/account"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/store"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// Collection name constants.
const (
	colAccounts = "credit_accounts"
	colUsage    = "usage_entries"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	db *mongo.Database
}

// New creates a MongoDB-backed Store on the given database.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) accounts() *mongo.Collection { return s.db.Collection(colAccounts) }
func (s *Store) usage() *mongo.Collection    { return s.db.Collection(colUsage) }

// Migrate creates the usage log indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.usage().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("credits/mongo: migrate indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.accounts().InsertOne(ctx, toAccountDoc(a))
	if mongo.IsDuplicateKeyError(err) {
		return credits.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("credits/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error) {
	var doc accountDoc
	err := s.accounts().FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get account: %w", err)
	}
	return fromAccountDoc(&doc)
}

func (s *Store) SetTier(ctx context.Context, userID id.UserID, tr tier.Tier) error {
	res, err := s.accounts().UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"tier": string(tr), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("credits/mongo: set tier: %w", err)
	}
	if res.MatchedCount == 0 {
		return credits.ErrUserNotFound
	}
	return nil
}

// Reserve applies any due window rollover with guarded updates, then runs a
// conditional FindOneAndUpdate that increments both counters only while both
// ceilings hold.
func (s *Store) Reserve(ctx context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*store.Reservation, error) {
	var doc accountDoc
	err := s.accounts().FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: load account: %w", err)
	}

	dayStart := account.StartOfDay(now)
	monthStart := account.StartOfMonth(now)

	// Lazy window rollover. A month boundary is also a day boundary.
	dayRes, err := s.accounts().UpdateOne(ctx,
		bson.M{"_id": userID.String(), "day_window_start": bson.M{"$lt": dayStart}},
		bson.M{"$set": bson.M{"credits_used_today": int64(0), "day_window_start": dayStart}},
	)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: day rollover: %w", err)
	}
	monthRes, err := s.accounts().UpdateOne(ctx,
		bson.M{"_id": userID.String(), "month_window_start": bson.M{"$lt": monthStart}},
		bson.M{"$set": bson.M{"credits_used_month": int64(0), "month_window_start": monthStart}},
	)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: month rollover: %w", err)
	}

	tr := tier.Tier(doc.Tier)
	pol := policies.PolicyFor(tr)

	res := &store.Reservation{
		Tier:        tr,
		Policy:      pol,
		DayRolled:   dayRes.ModifiedCount > 0,
		MonthRolled: monthRes.ModifiedCount > 0,
	}

	// Conditional increment: the filter admits the document only while
	// used + cost stays within each bounded ceiling. Cost 0 carries no
	// ceiling clauses at all; free tools never deny, even when the counters
	// sit above the limit after a tier downgrade.
	filter := bson.M{"_id": userID.String()}
	if cost > 0 {
		if pol.DailyLimit != tier.Unlimited {
			filter["credits_used_today"] = bson.M{"$lte": pol.DailyLimit - cost}
		}
		if pol.MonthlyLimit != tier.Unlimited {
			filter["credits_used_month"] = bson.M{"$lte": pol.MonthlyLimit - cost}
		}
	}

	var updated accountDoc
	err = s.accounts().FindOneAndUpdate(ctx, filter,
		bson.M{
			"$inc": bson.M{"credits_used_today": cost, "credits_used_month": cost},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)

	if errors.Is(err, mongo.ErrNoDocuments) {
		// Denied. Re-read the untouched counters to name the exhausted
		// window; the daily window wins when both are exhausted.
		var current accountDoc
		if err := s.accounts().FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&current); err != nil {
			return nil, fmt.Errorf("credits/mongo: read denial state: %w", err)
		}
		res.DailyUsed = current.CreditsUsedToday
		res.MonthlyUsed = current.CreditsUsedMonth

		if pol.DailyLimit != tier.Unlimited && current.CreditsUsedToday+cost > pol.DailyLimit {
			res.Window = quota.WindowDaily
		} else {
			res.Window = quota.WindowMonthly
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: reserve: %w", err)
	}

	res.Allowed = true
	res.DailyUsed = updated.CreditsUsedToday
	res.MonthlyUsed = updated.CreditsUsedMonth
	return res, nil
}

func (s *Store) InsertUsage(ctx context.Context, entries []*usage.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, toUsageDoc(e))
	}

	_, err := s.usage().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("credits/mongo: insert usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	filter := bson.M{"user_id": userID.String()}
	if opts.ToolType != "" {
		filter["tool_type"] = opts.ToolType
	}

	created := bson.M{}
	if !opts.Since.IsZero() {
		created["$gte"] = opts.Since
	}
	if !opts.Until.IsZero() {
		created["$lt"] = opts.Until
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.usage().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: query usage: %w", err)
	}
	defer cursor.Close(ctx) //nolint:errcheck

	var out []*usage.Entry
	for cursor.Next(ctx) {
		var doc usageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("credits/mongo: decode usage: %w", err)
		}
		e, err := fromUsageDoc(&doc)
		if err != nil {
			return nil, fmt.Errorf("credits/mongo: decode usage: %w", err)
		}
		out = append(out, e)
	}
	return out, cursor.Err()
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.usage().DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: purge usage: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}
