// Package redis provides a Redis-backed Store.
//
// Account state lives in a Redis hash per user and the whole reservation
// (rollover, admission check, increment) runs inside one Lua script, so it is
// atomic across any number of engine instances sharing the same Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

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
	client    goredis.Cmdable
	keyPrefix string
}

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "credits:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a Redis-backed Store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "credits:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(userID string) string { return s.keyPrefix + "account:" + userID }
func (s *Store) usageKey(userID string) string   { return s.keyPrefix + "usage:" + userID }
func (s *Store) usersKey() string                { return s.keyPrefix + "usage_users" }

// reserveScript performs rollover, admission check, and increment atomically.
// KEYS[1] = account hash key
// ARGV[1] = cost
// ARGV[2] = day window start (unix seconds)
// ARGV[3] = month window start (unix seconds)
// ARGV[4] = daily limit (-1 unlimited)
// ARGV[5] = monthly limit (-1 unlimited)
// ARGV[6] = now (unix seconds)
//
// Returns {code, daily_used, monthly_used, day_rolled, month_rolled} where
// code is 1 = allowed, 0 = daily denied, -1 = monthly denied, -2 = not found.
var reserveScript = goredis.NewScript(`
local key = KEYS[1]
local cost = tonumber(ARGV[1])
local day_start = tonumber(ARGV[2])
local month_start = tonumber(ARGV[3])
local daily_limit = tonumber(ARGV[4])
local monthly_limit = tonumber(ARGV[5])
local now = tonumber(ARGV[6])

if redis.call("EXISTS", key) == 0 then
    return {-2, 0, 0, 0, 0}
end

local day_rolled = 0
local month_rolled = 0

local cur_day = tonumber(redis.call("HGET", key, "day_window_start") or "0")
if cur_day < day_start then
    redis.call("HSET", key, "credits_used_today", "0", "day_window_start", tostring(day_start))
    day_rolled = 1
end

local cur_month = tonumber(redis.call("HGET", key, "month_window_start") or "0")
if cur_month < month_start then
    redis.call("HSET", key, "credits_used_month", "0", "month_window_start", tostring(month_start))
    month_rolled = 1
end

local today = tonumber(redis.call("HGET", key, "credits_used_today") or "0")
local month = tonumber(redis.call("HGET", key, "credits_used_month") or "0")

if cost > 0 then
    if daily_limit >= 0 and today + cost > daily_limit then
        return {0, today, month, day_rolled, month_rolled}
    end
    if monthly_limit >= 0 and month + cost > monthly_limit then
        return {-1, today, month, day_rolled, month_rolled}
    end
end

today = redis.call("HINCRBY", key, "credits_used_today", cost)
month = redis.call("HINCRBY", key, "credits_used_month", cost)
redis.call("HSET", key, "updated_at", tostring(now))
return {1, today, month, day_rolled, month_rolled}
`)

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	key := s.accountKey(a.ID.String())

	set, err := s.client.HSetNX(ctx, key, "tier", string(a.Tier)).Result()
	if err != nil {
		return fmt.Errorf("credits/redis: create account: %w", err)
	}
	if !set {
		return credits.ErrAlreadyExists
	}

	err = s.client.HSet(ctx, key,
		"credits_used_today", a.CreditsUsedToday,
		"credits_used_month", a.CreditsUsedMonth,
		"day_window_start", a.DayWindowStart.Unix(),
		"month_window_start", a.MonthWindowStart.Unix(),
		"created_at", a.CreatedAt.Unix(),
		"updated_at", a.UpdatedAt.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("credits/redis: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error) {
	vals, err := s.client.HGetAll(ctx, s.accountKey(userID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: get account: %w", err)
	}
	if len(vals) == 0 {
		return nil, credits.ErrUserNotFound
	}

	a := &account.Account{
		ID:               userID,
		Tier:             tier.Tier(vals["tier"]),
		CreditsUsedToday: parseInt(vals["credits_used_today"]),
		CreditsUsedMonth: parseInt(vals["credits_used_month"]),
		DayWindowStart:   time.Unix(parseInt(vals["day_window_start"]), 0).UTC(),
		MonthWindowStart: time.Unix(parseInt(vals["month_window_start"]), 0).UTC(),
	}
	a.CreatedAt = time.Unix(parseInt(vals["created_at"]), 0).UTC()
	a.UpdatedAt = time.Unix(parseInt(vals["updated_at"]), 0).UTC()
	return a, nil
}

func (s *Store) SetTier(ctx context.Context, userID id.UserID, tr tier.Tier) error {
	key := s.accountKey(userID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("credits/redis: set tier: %w", err)
	}
	if exists == 0 {
		return credits.ErrUserNotFound
	}

	err = s.client.HSet(ctx, key,
		"tier", string(tr),
		"updated_at", time.Now().UTC().Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("credits/redis: set tier: %w", err)
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, userID id.UserID, cost int64, policies tier.Table, now time.Time) (*store.Reservation, error) {
	// Tier lives in the hash; read it first to resolve the policy, then let
	// the script do the atomic part with the resolved ceilings.
	rawTier, err := s.client.HGet(ctx, s.accountKey(userID.String()), "tier").Result()
	if err == goredis.Nil {
		return nil, credits.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/redis: read tier: %w", err)
	}

	tr := tier.Tier(rawTier)
	pol := policies.PolicyFor(tr)

	vals, err := reserveScript.Run(ctx, s.client,
		[]string{s.accountKey(userID.String())},
		cost,
		account.StartOfDay(now).Unix(),
		account.StartOfMonth(now).Unix(),
		pol.DailyLimit,
		pol.MonthlyLimit,
		now.Unix(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: reserve: %w", err)
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("credits/redis: unexpected reserve reply length %d", len(vals))
	}

	code := vals[0]
	if code == -2 {
		return nil, credits.ErrUserNotFound
	}

	res := &store.Reservation{
		Tier:        tr,
		Policy:      pol,
		DailyUsed:   vals[1],
		MonthlyUsed: vals[2],
		DayRolled:   vals[3] == 1,
		MonthRolled: vals[4] == 1,
	}

	switch code {
	case 1:
		res.Allowed = true
	case 0:
		res.Window = quota.WindowDaily
	case -1:
		res.Window = quota.WindowMonthly
	default:
		return nil, fmt.Errorf("credits/redis: unexpected reserve code %d", code)
	}
	return res, nil
}

func (s *Store) InsertUsage(ctx context.Context, entries []*usage.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("credits/redis: marshal usage: %w", err)
		}
		pipe.ZAdd(ctx, s.usageKey(e.UserID.String()), goredis.Z{
			Score:  float64(e.CreatedAt.UnixNano()),
			Member: string(payload),
		})
		pipe.SAdd(ctx, s.usersKey(), e.UserID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("credits/redis: insert usage: %w", err)
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	min := "-inf"
	max := "+inf"
	if !opts.Since.IsZero() {
		min = strconv.FormatInt(opts.Since.UnixNano(), 10)
	}
	if !opts.Until.IsZero() {
		max = "(" + strconv.FormatInt(opts.Until.UnixNano(), 10)
	}

	members, err := s.client.ZRevRangeByScore(ctx, s.usageKey(userID.String()), &goredis.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("credits/redis: query usage: %w", err)
	}

	// ToolType filtering happens after decode, so limit/offset are applied
	// here rather than pushed into the range query.
	out := make([]*usage.Entry, 0, len(members))
	skipped := 0
	for _, m := range members {
		e := &usage.Entry{}
		if err := json.Unmarshal([]byte(m), e); err != nil {
			return nil, fmt.Errorf("credits/redis: decode usage: %w", err)
		}
		if opts.ToolType != "" && e.ToolType != opts.ToolType {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("credits/redis: purge usage: %w", err)
	}

	cutoff := "(" + strconv.FormatInt(before.UnixNano(), 10)
	var total int64
	for _, u := range users {
		n, err := s.client.ZRemRangeByScore(ctx, s.usageKey(u), "-inf", cutoff).Result()
		if err != nil {
			return total, fmt.Errorf("credits/redis: purge usage for %s: %w", u, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
