// Package tier defines the subscription tiers, their quota policies, and the
// per-tool credit cost table. All of it is immutable process-wide
// configuration resolved once at startup; changing a limit requires a
// deployment, never a runtime mutation.
package tier

import "fmt"

// Tier is a subscription level determining quota ceilings.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited is the only valid sentinel for a ceiling-less limit.
const Unlimited int64 = -1

// Policy holds the quota ceilings for one tier.
// A limit of Unlimited (-1) is never checked; all other values must be >= 0.
type Policy struct {
	DailyLimit   int64 `json:"daily_limit"`
	MonthlyLimit int64 `json:"monthly_limit"`
}

// Validate checks that both limits are either Unlimited or non-negative.
func (p Policy) Validate() error {
	if p.DailyLimit < Unlimited {
		return fmt.Errorf("tier: invalid daily limit %d", p.DailyLimit)
	}
	if p.MonthlyLimit < Unlimited {
		return fmt.Errorf("tier: invalid monthly limit %d", p.MonthlyLimit)
	}
	return nil
}

// IsUnlimited reports whether neither window is ever checked.
func (p Policy) IsUnlimited() bool {
	return p.DailyLimit == Unlimited && p.MonthlyLimit == Unlimited
}

// Table is an immutable tier -> Policy mapping.
// Lookups for unknown tiers fall back to the most restrictive known tier (free).
type Table struct {
	policies map[Tier]Policy
}

// NewTable builds a Table from the given policies. The free tier must be
// present because it is the fallback for unknown tiers.
func NewTable(policies map[Tier]Policy) (Table, error) {
	if _, ok := policies[TierFree]; !ok {
		return Table{}, fmt.Errorf("tier: table must define the %q fallback tier", TierFree)
	}

	copied := make(map[Tier]Policy, len(policies))
	for t, p := range policies {
		if err := p.Validate(); err != nil {
			return Table{}, fmt.Errorf("tier: %q: %w", t, err)
		}
		copied[t] = p
	}

	return Table{policies: copied}, nil
}

// DefaultTable returns the built-in policies used when no configuration
// is supplied.
func DefaultTable() Table {
	t, err := NewTable(map[Tier]Policy{
		TierFree:       {DailyLimit: 10, MonthlyLimit: 100},
		TierPro:        {DailyLimit: 500, MonthlyLimit: 5000},
		TierEnterprise: {DailyLimit: Unlimited, MonthlyLimit: Unlimited},
	})
	if err != nil {
		panic(fmt.Sprintf("tier: default table: %v", err))
	}
	return t
}

// PolicyFor returns the policy for a tier, falling back to the free tier
// for unknown tiers.
func (t Table) PolicyFor(tr Tier) Policy {
	if p, ok := t.policies[tr]; ok {
		return p
	}
	return t.policies[TierFree]
}

// Known reports whether the tier is explicitly defined in the table.
func (t Table) Known(tr Tier) bool {
	_, ok := t.policies[tr]
	return ok
}
