package credits

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docustream/credits/tier"
)

// Config is the file-based engine configuration.
type Config struct {
	Tiers       map[string]TierConfig `yaml:"tiers"`
	Tools       []ToolConfig          `yaml:"tools"`
	StrictTools bool                  `yaml:"strict_tools"`
	// DefaultToolCost overrides the cost charged for unlisted tools.
	// A pointer so an explicit 0 (free by default) differs from unset.
	DefaultToolCost *int64          `yaml:"default_tool_cost"`
	Recorder        RecorderConfig  `yaml:"recorder"`
	Retention       RetentionConfig `yaml:"retention"`
}

// TierConfig configures the quota ceilings of one subscription tier.
// A limit of -1 means unlimited.
type TierConfig struct {
	DailyLimit   int64 `yaml:"daily_limit"`
	MonthlyLimit int64 `yaml:"monthly_limit"`
}

// ToolConfig maps a tool type to its per-invocation credit cost.
type ToolConfig struct {
	Type string `yaml:"type"`
	Cost int64  `yaml:"cost"`
}

// RecorderConfig configures the asynchronous usage recorder.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RetentionConfig configures the usage log retention sweep.
// A zero Keep disables the sweep.
type RetentionConfig struct {
	Keep          time.Duration `yaml:"keep"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("credits: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("credits: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Tiers) > 0 {
		if _, ok := c.Tiers[string(tier.TierFree)]; !ok {
			return fmt.Errorf("credits: config: tier %q is required", tier.TierFree)
		}
		for name, tc := range c.Tiers {
			if tc.DailyLimit < tier.Unlimited {
				return fmt.Errorf("credits: config: tier %q: invalid daily_limit %d", name, tc.DailyLimit)
			}
			if tc.MonthlyLimit < tier.Unlimited {
				return fmt.Errorf("credits: config: tier %q: invalid monthly_limit %d", name, tc.MonthlyLimit)
			}
		}
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, tool := range c.Tools {
		if tool.Type == "" {
			return fmt.Errorf("credits: config: tools[%d]: type is required", i)
		}
		if seen[tool.Type] {
			return fmt.Errorf("credits: config: duplicate tool type %q", tool.Type)
		}
		seen[tool.Type] = true

		if tool.Cost < 0 {
			return fmt.Errorf("credits: config: tools[%d] (%s): cost must be >= 0", i, tool.Type)
		}
	}

	if c.DefaultToolCost != nil && *c.DefaultToolCost < 0 {
		return fmt.Errorf("credits: config: default_tool_cost must be >= 0")
	}
	if c.Recorder.BatchSize < 0 {
		return fmt.Errorf("credits: config: recorder.batch_size must be >= 0")
	}

	return nil
}

// Policies builds the tier policy table from the config.
// An empty tiers section yields the built-in defaults.
func (c Config) Policies() (tier.Table, error) {
	if len(c.Tiers) == 0 {
		return tier.DefaultTable(), nil
	}

	policies := make(map[tier.Tier]tier.Policy, len(c.Tiers))
	for name, tc := range c.Tiers {
		policies[tier.Tier(name)] = tier.Policy{
			DailyLimit:   tc.DailyLimit,
			MonthlyLimit: tc.MonthlyLimit,
		}
	}
	return tier.NewTable(policies)
}

// Costs builds the tool cost table from the config.
func (c Config) Costs() (tier.CostTable, error) {
	costs := make(map[string]int64, len(c.Tools))
	for _, tool := range c.Tools {
		costs[tool.Type] = tool.Cost
	}

	var opts []tier.CostOption
	if c.DefaultToolCost != nil {
		opts = append(opts, tier.WithDefaultCost(*c.DefaultToolCost))
	}
	if c.StrictTools {
		opts = append(opts, tier.Strict())
	}
	return tier.NewCostTable(costs, opts...)
}

// EngineOptions converts the config into engine options.
func (c Config) EngineOptions() ([]Option, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}
	costs, err := c.Costs()
	if err != nil {
		return nil, err
	}

	opts := []Option{WithPolicies(policies), WithCosts(costs)}
	if c.Recorder.BatchSize > 0 || c.Recorder.FlushInterval > 0 {
		batch := c.Recorder.BatchSize
		if batch == 0 {
			batch = 100
		}
		flush := c.Recorder.FlushInterval
		if flush == 0 {
			flush = 5 * time.Second
		}
		opts = append(opts, WithRecorderConfig(batch, flush))
	}
	if c.Retention.Keep > 0 {
		opts = append(opts, WithRetention(c.Retention.Keep, c.Retention.SweepInterval))
	}
	return opts, nil
}
