package tier

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by CostOf in strict mode for tools the table
// does not list.
var ErrUnknownTool = errors.New("tier: unknown tool")

// CostTable is an immutable tool-identifier -> credit-cost mapping.
//
// Unknown tools resolve to a single configurable default cost. The upstream
// application defaulted unknown tools to 0 in some routes and 1 in others;
// this table standardizes on one explicit policy: a default of 1 (never give
// away an unlisted tool for free by accident), overridable via
// WithDefaultCost, or rejected outright via Strict.
type CostTable struct {
	costs       map[string]int64
	defaultCost int64
	strict      bool
}

// CostOption configures a CostTable.
type CostOption func(*CostTable)

// WithDefaultCost sets the cost charged for tools the table does not list.
func WithDefaultCost(cost int64) CostOption {
	return func(c *CostTable) { c.defaultCost = cost }
}

// Strict makes CostOf return ErrUnknownTool instead of the default cost.
func Strict() CostOption {
	return func(c *CostTable) { c.strict = true }
}

// NewCostTable builds a CostTable. Costs must be >= 0; zero marks a free tool.
func NewCostTable(costs map[string]int64, opts ...CostOption) (CostTable, error) {
	copied := make(map[string]int64, len(costs))
	for tool, cost := range costs {
		if cost < 0 {
			return CostTable{}, fmt.Errorf("tier: tool %q: negative cost %d", tool, cost)
		}
		copied[tool] = cost
	}

	table := CostTable{costs: copied, defaultCost: 1}
	for _, opt := range opts {
		opt(&table)
	}

	if table.defaultCost < 0 {
		return CostTable{}, fmt.Errorf("tier: negative default cost %d", table.defaultCost)
	}

	return table, nil
}

// CostOf resolves the credit cost for a tool invocation.
func (c CostTable) CostOf(tool string) (int64, error) {
	if cost, ok := c.costs[tool]; ok {
		return cost, nil
	}
	if c.strict {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	return c.defaultCost, nil
}

// Known reports whether the tool is explicitly listed.
func (c CostTable) Known(tool string) bool {
	_, ok := c.costs[tool]
	return ok
}
