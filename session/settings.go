// Package session manages the configuration layers that shape a plan
// run: global defaults, per-session overrides, and per-request
// overrides, resolved in that order of increasing precedence.
package session

import (
	"time"

	"github.com/dshills/planrun/plan"
	"github.com/dshills/planrun/plan/tool"
)

// ModelParams configures model-call behavior for a session.
//
// Zero values mean "inherit from the lower-precedence layer".
type ModelParams struct {
	Provider    string  `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// ToolPolicies configures the sandbox applied to tool invocations.
type ToolPolicies struct {
	SandboxRoot  string   `yaml:"sandbox_root,omitempty" json:"sandbox_root,omitempty"`
	AllowedHosts []string `yaml:"allowed_hosts,omitempty" json:"allowed_hosts,omitempty"`
	DryRun       *bool    `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	MaxReadBytes int64    `yaml:"max_read_bytes,omitempty" json:"max_read_bytes,omitempty"`
}

// Limits configures the execution budget.
type Limits struct {
	MaxWallClock time.Duration `yaml:"max_wall_clock,omitempty" json:"max_wall_clock,omitempty"`
	MaxCostUnits float64       `yaml:"max_cost_units,omitempty" json:"max_cost_units,omitempty"`
	MaxDepth     int           `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// Settings is one configuration layer. Layers merge field by field:
// a set field wins over the same field in lower-precedence layers.
type Settings struct {
	Model ModelParams  `yaml:"model" json:"model"`
	Tools ToolPolicies `yaml:"tools" json:"tools"`
	Limit Limits       `yaml:"limits" json:"limits"`
}

// GlobalDefaults is the lowest-precedence layer used when no layer sets
// a field.
func GlobalDefaults() Settings {
	return Settings{
		Model: ModelParams{
			Provider:    "anthropic",
			MaxTokens:   4096,
			Temperature: 0,
		},
		Tools: ToolPolicies{
			MaxReadBytes: tool.DefaultMaxReadBytes,
		},
		Limit: Limits{
			MaxWallClock: 15 * time.Minute,
			MaxCostUnits: 5.0,
			MaxDepth:     32,
		},
	}
}

// Resolve merges layers in increasing precedence: each later layer's set
// fields override the accumulated result. Call as
// Resolve(GlobalDefaults(), sessionSettings, requestSettings).
func Resolve(layers ...Settings) Settings {
	var out Settings
	for _, layer := range layers {
		out = merge(out, layer)
	}
	return out
}

func merge(base, over Settings) Settings {
	if over.Model.Provider != "" {
		base.Model.Provider = over.Model.Provider
	}
	if over.Model.Model != "" {
		base.Model.Model = over.Model.Model
	}
	if over.Model.MaxTokens != 0 {
		base.Model.MaxTokens = over.Model.MaxTokens
	}
	if over.Model.Temperature != 0 {
		base.Model.Temperature = over.Model.Temperature
	}

	if over.Tools.SandboxRoot != "" {
		base.Tools.SandboxRoot = over.Tools.SandboxRoot
	}
	if len(over.Tools.AllowedHosts) > 0 {
		base.Tools.AllowedHosts = append([]string(nil), over.Tools.AllowedHosts...)
	}
	if over.Tools.DryRun != nil {
		base.Tools.DryRun = over.Tools.DryRun
	}
	if over.Tools.MaxReadBytes != 0 {
		base.Tools.MaxReadBytes = over.Tools.MaxReadBytes
	}

	if over.Limit.MaxWallClock != 0 {
		base.Limit.MaxWallClock = over.Limit.MaxWallClock
	}
	if over.Limit.MaxCostUnits != 0 {
		base.Limit.MaxCostUnits = over.Limit.MaxCostUnits
	}
	if over.Limit.MaxDepth != 0 {
		base.Limit.MaxDepth = over.Limit.MaxDepth
	}
	return base
}

// Budget converts resolved limits to a plan budget.
func (s Settings) Budget() plan.Budget {
	return plan.Budget{
		MaxWallClock: s.Limit.MaxWallClock,
		MaxCostUnits: s.Limit.MaxCostUnits,
		MaxDepth:     s.Limit.MaxDepth,
	}
}

// Scope converts resolved tool policies to an invocation scope.
func (s Settings) Scope() tool.Scope {
	scope := tool.Scope{
		SandboxRoot:  s.Tools.SandboxRoot,
		AllowedHosts: append([]string(nil), s.Tools.AllowedHosts...),
		MaxReadBytes: s.Tools.MaxReadBytes,
	}
	if s.Tools.DryRun != nil {
		scope.DryRun = *s.Tools.DryRun
	}
	return scope
}
