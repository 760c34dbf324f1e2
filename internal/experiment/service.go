package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	minVariants = 2
	maxVariants = 5

	// allocationTolerance absorbs floating error when checking that
	// variant allocations sum to 100%.
	allocationTolerance = 0.01

	defaultMinimumSampleSize     = 1000
	defaultSignificanceThreshold = 0.05
)

var (
	// ErrNotFound is returned (wrapped with the id) when an experiment
	// does not exist in the store.
	ErrNotFound = errors.New("experiment not found")

	// ErrInvalidTransition is returned when a lifecycle operation is not
	// permitted from the experiment's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence boundary for experiment definitions. The
// reference backend is in-memory; a durable backend implements the same
// contract. Get returns ErrNotFound (wrapped) for unknown ids.
type Store interface {
	Put(cfg *Config) error
	Get(id string) (*Config, error)
	ListActive(productID string) ([]*Config, error)
	ListExpired(now time.Time) ([]*Config, error)
}

// CreateParams are the caller-supplied fields for a new experiment. Variant
// ids are assigned by the service and any ids in the input are ignored.
type CreateParams struct {
	Name                  string          `json:"name"`
	Hypothesis            string          `json:"hypothesis"`
	ProductID             string          `json:"product_id"`
	Variants              []Variant       `json:"variants"`
	TargetingRules        []TargetingRule `json:"targeting_rules,omitempty"`
	DurationDays          int             `json:"duration_days,omitempty"`
	MinimumSampleSize     int             `json:"minimum_sample_size,omitempty"`
	SignificanceThreshold float64         `json:"significance_threshold,omitempty"`
}

// Service owns the experiment lifecycle: creation-time invariant
// enforcement, status transitions, and targeting evaluation.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create validates the variant set, assigns fresh ids, and stores the
// experiment in draft status.
func (s *Service) Create(params CreateParams) (*Config, error) {
	if len(params.Variants) < minVariants {
		return nil, errors.New("experiment must have at least 2 variants")
	}
	if len(params.Variants) > maxVariants {
		return nil, errors.New("experiment cannot have more than 5 variants")
	}

	var sum float64
	controls := 0
	for _, v := range params.Variants {
		sum += v.AllocationPercent
		if v.IsControl {
			controls++
		}
	}
	if math.Abs(sum-100) > allocationTolerance {
		return nil, fmt.Errorf("variant allocations must sum to 100%%, got %s", strconv.FormatFloat(sum, 'f', -1, 64))
	}
	if controls != 1 {
		return nil, fmt.Errorf("experiment must have exactly one control variant, got %d", controls)
	}

	now := time.Now()
	cfg := &Config{
		ID:                    "exp_" + uuid.NewString(),
		Name:                  params.Name,
		Hypothesis:            params.Hypothesis,
		ProductID:             params.ProductID,
		Status:                StatusDraft,
		StartDate:             now,
		Variants:              make([]Variant, len(params.Variants)),
		TargetingRules:        params.TargetingRules,
		MinimumSampleSize:     params.MinimumSampleSize,
		SignificanceThreshold: params.SignificanceThreshold,
	}
	for i, v := range params.Variants {
		v.ID = "var_" + uuid.NewString()
		cfg.Variants[i] = v
	}
	if cfg.MinimumSampleSize <= 0 {
		cfg.MinimumSampleSize = defaultMinimumSampleSize
	}
	if cfg.SignificanceThreshold <= 0 || cfg.SignificanceThreshold >= 1 {
		cfg.SignificanceThreshold = defaultSignificanceThreshold
	}
	if params.DurationDays > 0 {
		end := now.AddDate(0, 0, params.DurationDays)
		cfg.EndDate = &end
	}

	if err := s.store.Put(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Activate moves a draft or paused experiment to active and resets its
// start date.
func (s *Service) Activate(id string) (*Config, error) {
	cfg, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if cfg.Status != StatusDraft && cfg.Status != StatusPaused {
		return nil, fmt.Errorf("%w: cannot activate experiment in status %s", ErrInvalidTransition, cfg.Status)
	}
	cfg.Status = StatusActive
	cfg.StartDate = time.Now()
	if err := s.store.Put(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Pause moves an active experiment to paused.
func (s *Service) Pause(id string) (*Config, error) {
	cfg, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if cfg.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot pause experiment in status %s", ErrInvalidTransition, cfg.Status)
	}
	cfg.Status = StatusPaused
	if err := s.store.Put(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Complete moves an experiment to completed from any status and stamps the
// end date. Completed is terminal: no transition leads out of it.
func (s *Service) Complete(id string) (*Config, error) {
	cfg, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	cfg.Status = StatusCompleted
	end := time.Now()
	cfg.EndDate = &end
	if err := s.store.Put(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the experiment with the given id.
func (s *Service) Get(id string) (*Config, error) {
	return s.store.Get(id)
}

// ListActive returns all active experiments scoped to a product.
func (s *Service) ListActive(productID string) ([]*Config, error) {
	return s.store.ListActive(productID)
}

// MatchesTargeting reports whether a subject context satisfies every
// targeting rule of the experiment. An empty rule list always matches.
func (s *Service) MatchesTargeting(cfg *Config, subject map[string]any) bool {
	for _, rule := range cfg.TargetingRules {
		if !matchRule(rule, subject[rule.Field]) {
			return false
		}
	}
	return true
}

func matchRule(rule TargetingRule, got any) bool {
	switch rule.Operator {
	case OpEquals:
		return scalarEquals(got, rule.Value)
	case OpNotEquals:
		return !scalarEquals(got, rule.Value)
	case OpIn:
		return listContains(rule.Value, got)
	case OpNotIn:
		return !listContains(rule.Value, got)
	case OpGreaterThan:
		a, aok := toFloat(got)
		b, bok := toFloat(rule.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(got)
		b, bok := toFloat(rule.Value)
		return aok && bok && a < b
	default:
		// Unknown operators match permissively so a newer rule format
		// never blackholes traffic.
		return true
	}
}

func scalarEquals(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// listContains handles both []any (decoded JSON) and []string rule values.
func listContains(list any, got any) bool {
	switch vals := list.(type) {
	case []any:
		for _, v := range vals {
			if scalarEquals(got, v) {
				return true
			}
		}
	case []string:
		for _, v := range vals {
			if scalarEquals(got, v) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
