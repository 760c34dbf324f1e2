package experiment

import (
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Operator is a targeting rule comparison operator. Operators outside this
// set are evaluated permissively (match-true) rather than rejected.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Variant is one priced treatment within an experiment.
type Variant struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	PriceInCents      int            `json:"price_in_cents"`
	AllocationPercent float64        `json:"allocation_percent"`
	IsControl         bool           `json:"is_control"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// TargetingRule restricts which subjects an experiment applies to. Value is
// a scalar for comparison operators and a list for in/not_in.
type TargetingRule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Config is a stored experiment definition. Identity is the ID, assigned at
// creation and never reused.
type Config struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Hypothesis            string          `json:"hypothesis"`
	ProductID             string          `json:"product_id"`
	Status                Status          `json:"status"`
	StartDate             time.Time       `json:"start_date"`
	EndDate               *time.Time      `json:"end_date,omitempty"`
	Variants              []Variant       `json:"variants"`
	TargetingRules        []TargetingRule `json:"targeting_rules,omitempty"`
	MinimumSampleSize     int             `json:"minimum_sample_size"`
	SignificanceThreshold float64         `json:"significance_threshold"`
}

// ControlVariant returns the designated control, or nil if the config is
// malformed (creation-time validation guarantees exactly one).
func (c *Config) ControlVariant() *Variant {
	for i := range c.Variants {
		if c.Variants[i].IsControl {
			return &c.Variants[i]
		}
	}
	return nil
}

// VariantByID returns the variant with the given id, or nil.
func (c *Config) VariantByID(id string) *Variant {
	for i := range c.Variants {
		if c.Variants[i].ID == id {
			return &c.Variants[i]
		}
	}
	return nil
}

// VariantName returns the display name for a variant id, falling back to the
// id itself when the variant is unknown.
func (c *Config) VariantName(id string) string {
	if v := c.VariantByID(id); v != nil {
		return v.Name
	}
	return id
}

// Clone returns a deep copy so stored configs are never aliased by callers.
func (c *Config) Clone() *Config {
	out := *c
	if c.EndDate != nil {
		end := *c.EndDate
		out.EndDate = &end
	}
	out.Variants = make([]Variant, len(c.Variants))
	copy(out.Variants, c.Variants)
	for i, v := range c.Variants {
		if v.Metadata != nil {
			md := make(map[string]any, len(v.Metadata))
			for k, val := range v.Metadata {
				md[k] = val
			}
			out.Variants[i].Metadata = md
		}
	}
	if c.TargetingRules != nil {
		out.TargetingRules = make([]TargetingRule, len(c.TargetingRules))
		copy(out.TargetingRules, c.TargetingRules)
	}
	return &out
}
