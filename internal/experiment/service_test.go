package experiment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelab/internal/experiment"
	"pricelab/internal/store"
)

func newService() *experiment.Service {
	return experiment.NewService(store.NewMemoryExperiments())
}

func twoVariants() []experiment.Variant {
	return []experiment.Variant{
		{Name: "control", PriceInCents: 999, AllocationPercent: 50, IsControl: true},
		{Name: "premium", PriceInCents: 1299, AllocationPercent: 50},
	}
}

func TestCreateAssignsIDsAndDefaults(t *testing.T) {
	svc := newService()

	cfg, err := svc.Create(experiment.CreateParams{
		Name:      "pricing-v1",
		ProductID: "prod-1",
		Variants:  twoVariants(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, experiment.StatusDraft, cfg.Status)
	assert.Equal(t, 1000, cfg.MinimumSampleSize)
	assert.Equal(t, 0.05, cfg.SignificanceThreshold)
	assert.Nil(t, cfg.EndDate)
	for _, v := range cfg.Variants {
		assert.NotEmpty(t, v.ID)
	}
	assert.NotEqual(t, cfg.Variants[0].ID, cfg.Variants[1].ID)
}

func TestCreateComputesEndDateFromDuration(t *testing.T) {
	svc := newService()

	cfg, err := svc.Create(experiment.CreateParams{
		Name:         "pricing-v1",
		Variants:     twoVariants(),
		DurationDays: 14,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.EndDate)
	assert.WithinDuration(t, cfg.StartDate.AddDate(0, 0, 14), *cfg.EndDate, time.Second)
}

func TestCreateRejectsVariantCount(t *testing.T) {
	svc := newService()

	_, err := svc.Create(experiment.CreateParams{
		Variants: []experiment.Variant{{Name: "only", AllocationPercent: 100, IsControl: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 variants")

	six := make([]experiment.Variant, 6)
	for i := range six {
		six[i] = experiment.Variant{Name: "v", AllocationPercent: 100.0 / 6}
	}
	six[0].IsControl = true
	_, err = svc.Create(experiment.CreateParams{Variants: six})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot have more than 5 variants")
}

func TestCreateRejectsBadAllocationSum(t *testing.T) {
	svc := newService()

	_, err := svc.Create(experiment.CreateParams{
		Variants: []experiment.Variant{
			{Name: "control", AllocationPercent: 50, IsControl: true},
			{Name: "b", AllocationPercent: 40},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 100%")
	assert.Contains(t, err.Error(), "90")
}

func TestCreateAllowsFloatingTolerance(t *testing.T) {
	svc := newService()

	_, err := svc.Create(experiment.CreateParams{
		Variants: []experiment.Variant{
			{Name: "control", AllocationPercent: 33.33, IsControl: true},
			{Name: "b", AllocationPercent: 33.33},
			{Name: "c", AllocationPercent: 33.34},
		},
	})
	assert.NoError(t, err)
}

func TestCreateRejectsControlCount(t *testing.T) {
	svc := newService()

	_, err := svc.Create(experiment.CreateParams{
		Variants: []experiment.Variant{
			{Name: "a", AllocationPercent: 50},
			{Name: "b", AllocationPercent: 50},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one control")

	_, err = svc.Create(experiment.CreateParams{
		Variants: []experiment.Variant{
			{Name: "a", AllocationPercent: 50, IsControl: true},
			{Name: "b", AllocationPercent: 50, IsControl: true},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one control")
}

func TestLifecycleTransitions(t *testing.T) {
	svc := newService()
	cfg, err := svc.Create(experiment.CreateParams{Variants: twoVariants()})
	require.NoError(t, err)

	created := cfg.StartDate

	cfg, err = svc.Activate(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusActive, cfg.Status)
	assert.False(t, cfg.StartDate.Before(created))

	// Active experiments cannot be re-activated.
	_, err = svc.Activate(cfg.ID)
	require.ErrorIs(t, err, experiment.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "active")

	cfg, err = svc.Pause(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusPaused, cfg.Status)

	// Paused experiments can be resumed.
	cfg, err = svc.Activate(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusActive, cfg.Status)

	cfg, err = svc.Complete(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusCompleted, cfg.Status)
	require.NotNil(t, cfg.EndDate)

	// Completed is terminal.
	_, err = svc.Activate(cfg.ID)
	require.ErrorIs(t, err, experiment.ErrInvalidTransition)
	_, err = svc.Pause(cfg.ID)
	require.ErrorIs(t, err, experiment.ErrInvalidTransition)
}

func TestPauseRequiresActive(t *testing.T) {
	svc := newService()
	cfg, err := svc.Create(experiment.CreateParams{Variants: twoVariants()})
	require.NoError(t, err)

	_, err = svc.Pause(cfg.ID)
	require.ErrorIs(t, err, experiment.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "draft")
}

func TestCompleteFromAnyStatus(t *testing.T) {
	svc := newService()
	cfg, err := svc.Create(experiment.CreateParams{Variants: twoVariants()})
	require.NoError(t, err)

	cfg, err = svc.Complete(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusCompleted, cfg.Status)
}

func TestNotFoundErrors(t *testing.T) {
	svc := newService()

	_, err := svc.Get("exp_missing")
	require.ErrorIs(t, err, experiment.ErrNotFound)
	assert.Contains(t, err.Error(), "exp_missing")

	_, err = svc.Activate("exp_missing")
	require.ErrorIs(t, err, experiment.ErrNotFound)
	_, err = svc.Pause("exp_missing")
	require.ErrorIs(t, err, experiment.ErrNotFound)
	_, err = svc.Complete("exp_missing")
	require.ErrorIs(t, err, experiment.ErrNotFound)
}

func TestListActiveFiltersByProductAndStatus(t *testing.T) {
	svc := newService()

	a, err := svc.Create(experiment.CreateParams{ProductID: "prod-1", Variants: twoVariants()})
	require.NoError(t, err)
	_, err = svc.Activate(a.ID)
	require.NoError(t, err)

	b, err := svc.Create(experiment.CreateParams{ProductID: "prod-2", Variants: twoVariants()})
	require.NoError(t, err)
	_, err = svc.Activate(b.ID)
	require.NoError(t, err)

	// Draft experiment for prod-1 must not appear.
	_, err = svc.Create(experiment.CreateParams{ProductID: "prod-1", Variants: twoVariants()})
	require.NoError(t, err)

	active, err := svc.ListActive("prod-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestMatchesTargeting(t *testing.T) {
	svc := newService()

	cases := []struct {
		name    string
		rules   []experiment.TargetingRule
		subject map[string]any
		want    bool
	}{
		{"no rules always matches", nil, map[string]any{}, true},
		{"equals match", []experiment.TargetingRule{{Field: "plan", Operator: experiment.OpEquals, Value: "pro"}},
			map[string]any{"plan": "pro"}, true},
		{"equals mismatch", []experiment.TargetingRule{{Field: "plan", Operator: experiment.OpEquals, Value: "pro"}},
			map[string]any{"plan": "free"}, false},
		{"equals numeric coercion", []experiment.TargetingRule{{Field: "seats", Operator: experiment.OpEquals, Value: 5}},
			map[string]any{"seats": 5.0}, true},
		{"not_equals", []experiment.TargetingRule{{Field: "plan", Operator: experiment.OpNotEquals, Value: "free"}},
			map[string]any{"plan": "pro"}, true},
		{"in", []experiment.TargetingRule{{Field: "country", Operator: experiment.OpIn, Value: []any{"us", "ca"}}},
			map[string]any{"country": "ca"}, true},
		{"not_in", []experiment.TargetingRule{{Field: "country", Operator: experiment.OpNotIn, Value: []any{"us", "ca"}}},
			map[string]any{"country": "ca"}, false},
		{"greater_than", []experiment.TargetingRule{{Field: "age_days", Operator: experiment.OpGreaterThan, Value: 30}},
			map[string]any{"age_days": 45}, true},
		{"less_than", []experiment.TargetingRule{{Field: "age_days", Operator: experiment.OpLessThan, Value: 30}},
			map[string]any{"age_days": 45}, false},
		{"greater_than non-numeric field", []experiment.TargetingRule{{Field: "age_days", Operator: experiment.OpGreaterThan, Value: 30}},
			map[string]any{"age_days": "old"}, false},
		{"unknown operator is permissive", []experiment.TargetingRule{{Field: "plan", Operator: "matches_regex", Value: ".*"}},
			map[string]any{}, true},
		{"all rules must match", []experiment.TargetingRule{
			{Field: "plan", Operator: experiment.OpEquals, Value: "pro"},
			{Field: "country", Operator: experiment.OpIn, Value: []any{"us"}},
		}, map[string]any{"plan": "pro", "country": "de"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &experiment.Config{TargetingRules: tc.rules}
			assert.Equal(t, tc.want, svc.MatchesTargeting(cfg, tc.subject))
		})
	}
}

func TestExpiryCompletesOverdueExperiments(t *testing.T) {
	svc := newService()

	overdue, err := svc.Create(experiment.CreateParams{
		Name: "ending", ProductID: "prod-1", Variants: twoVariants(), DurationDays: 1,
	})
	require.NoError(t, err)
	_, err = svc.Activate(overdue.ID)
	require.NoError(t, err)

	open, err := svc.Create(experiment.CreateParams{
		Name: "open-ended", ProductID: "prod-1", Variants: twoVariants(),
	})
	require.NoError(t, err)
	_, err = svc.Activate(open.ID)
	require.NoError(t, err)

	draft, err := svc.Create(experiment.CreateParams{
		Name: "still-draft", ProductID: "prod-1", Variants: twoVariants(), DurationDays: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunExpiryOnce(time.Now().AddDate(0, 0, 3)))

	got, err := svc.Get(overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusCompleted, got.Status)

	got, err = svc.Get(open.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusActive, got.Status)

	got, err = svc.Get(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusDraft, got.Status)
}
