package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelab/internal/metrics"
	"pricelab/internal/stats"
)

func snapshot(variants ...metrics.VariantMetrics) *metrics.ExperimentMetrics {
	return &metrics.ExperimentMetrics{ExperimentID: "exp_1", Variants: variants}
}

func variant(id string, visitors, conversions int) metrics.VariantMetrics {
	return metrics.VariantMetrics{VariantID: id, VariantName: id, Visitors: visitors, Conversions: conversions}
}

func TestMissingControlFails(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	_, err := a.Analyze(snapshot(variant("var_b", 100, 10)), "var_control")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control variant var_control not found in metrics")
}

func TestIdenticalMetricsAreNotSignificant(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	res, err := a.Analyze(snapshot(
		variant("var_control", 1000, 100),
		variant("var_b", 1000, 100),
	), "var_control")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.InDelta(t, 1, r.PValue, 1e-6)
	assert.False(t, r.IsSignificant)
	assert.InDelta(t, 0, r.RelativeLift, 1e-9)
	assert.InDelta(t, 0, r.ZScore, 1e-9)
	assert.Nil(t, res.Winner)
}

func TestGoldenClearlySignificantScenario(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	// 10% control vs 14% variant at n=1000 each: a large, clearly
	// significant effect.
	res, err := a.Analyze(snapshot(
		variant("var_control", 1000, 100),
		variant("var_b", 1000, 140),
	), "var_control")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.InDelta(t, 0.10, r.ControlRate, 1e-9)
	assert.InDelta(t, 0.14, r.VariantRate, 1e-9)
	assert.InDelta(t, 40, r.RelativeLift, 1e-9)
	assert.InDelta(t, 2.75, r.ZScore, 0.02)
	assert.Less(t, r.PValue, 0.05)
	assert.True(t, r.IsSignificant)

	// 95% CI on the rate difference brackets the observed diff and
	// excludes zero.
	assert.Less(t, r.ConfidenceInterval.Lower, r.RateDiff)
	assert.Greater(t, r.ConfidenceInterval.Upper, r.RateDiff)
	assert.Greater(t, r.ConfidenceInterval.Lower, 0.0)
}

func TestRecommendationGatedUntilComplete(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	// Strong apparent effect, but nowhere near the required sample size
	// (~3.8k per group at a 10% base rate and 2pp MDE).
	res, err := a.Analyze(snapshot(
		variant("var_control", 200, 20),
		variant("var_b", 200, 52),
	), "var_control")
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	assert.Less(t, res.Results[0].SampleSize, res.Results[0].RequiredSampleSize)
	assert.False(t, res.IsComplete)
	assert.Contains(t, res.Recommendation, "Continue collecting data")
}

func TestWinnerRecommendationWhenComplete(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	res, err := a.Analyze(snapshot(
		variant("var_control", 5000, 500),
		variant("var_b", 5000, 700),
	), "var_control")
	require.NoError(t, err)

	assert.True(t, res.IsComplete)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "var_b", res.Winner.VariantID)
	assert.Contains(t, res.Recommendation, "Implement var_b pricing")
	assert.Contains(t, res.Recommendation, "40.0%")
}

func TestNoWinnerRecommendationWhenComplete(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	res, err := a.Analyze(snapshot(
		variant("var_control", 5000, 500),
		variant("var_b", 5000, 510),
	), "var_control")
	require.NoError(t, err)

	assert.True(t, res.IsComplete)
	assert.Nil(t, res.Winner)
	assert.Contains(t, res.Recommendation, "No statistically significant winner")
}

func TestWinnerHasLargestPositiveSignificantLift(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	res, err := a.Analyze(snapshot(
		variant("var_control", 5000, 500),
		variant("var_b", 5000, 650),
		variant("var_c", 5000, 800),
		variant("var_worse", 5000, 300),
	), "var_control")
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	require.NotNil(t, res.Winner)
	assert.Equal(t, "var_c", res.Winner.VariantID)

	// A significantly worse variant is never a winner.
	for _, r := range res.Results {
		if r.VariantID == "var_worse" {
			assert.True(t, r.IsSignificant)
			assert.Less(t, r.RelativeLift, 0.0)
		}
	}
}

func TestZeroTrafficVariantsDegradeGracefully(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	res, err := a.Analyze(snapshot(
		variant("var_control", 0, 0),
		variant("var_b", 0, 0),
	), "var_control")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	r := res.Results[0]
	assert.Zero(t, r.ControlRate)
	assert.Zero(t, r.VariantRate)
	assert.Zero(t, r.RelativeLift)
	assert.Zero(t, r.ZScore)
	assert.False(t, r.IsSignificant)
	assert.Zero(t, r.ConfidenceInterval.Lower)
	assert.Zero(t, r.ConfidenceInterval.Upper)
}

func TestRequiredSampleSizeMonotonicInEffect(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	n1 := a.RequiredSampleSize(0.10, 0.01)
	n2 := a.RequiredSampleSize(0.10, 0.02)
	n3 := a.RequiredSampleSize(0.10, 0.05)

	assert.Greater(t, n1, n2)
	assert.Greater(t, n2, n3)
	assert.Positive(t, n3)
	assert.Zero(t, a.RequiredSampleSize(0.10, 0))
}

func TestRequiredSampleSizeKnownValue(t *testing.T) {
	a := stats.NewAnalyzer(0.05)

	// 10% baseline, 2pp MDE, 80% power, alpha 0.05:
	// n = 2*0.11*0.89*(1.95996+0.84162)^2 / 0.02^2 ≈ 3842.
	n := a.RequiredSampleSize(0.10, 0.02)
	assert.InDelta(t, 3842, float64(n), 5)
}

func TestThresholdIsConfigurable(t *testing.T) {
	strict := stats.NewAnalyzer(0.001)

	res, err := strict.Analyze(snapshot(
		variant("var_control", 1000, 100),
		variant("var_b", 1000, 130),
	), "var_control")
	require.NoError(t, err)

	// p ≈ 0.03: significant at 0.05, not at 0.001.
	r := res.Results[0]
	assert.Less(t, r.PValue, 0.05)
	assert.False(t, r.IsSignificant)

	// Invalid thresholds fall back to the default.
	fallback := stats.NewAnalyzer(0)
	res, err = fallback.Analyze(snapshot(
		variant("var_control", 1000, 100),
		variant("var_b", 1000, 130),
	), "var_control")
	require.NoError(t, err)
	assert.True(t, res.Results[0].IsSignificant)
}
