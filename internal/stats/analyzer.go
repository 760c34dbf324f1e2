package stats

import (
	"fmt"
	"math"

	"pricelab/internal/metrics"
)

const (
	// DefaultSignificanceThreshold is the two-tailed alpha used when the
	// analyzer is constructed without one.
	DefaultSignificanceThreshold = 0.05

	// minimumDetectableEffect is the fixed effect size (2 percentage
	// points on the conversion rate) the required-sample-size power
	// calculation is anchored to.
	minimumDetectableEffect = 0.02

	// targetPower is the probability of detecting a true effect of the
	// minimum detectable size.
	targetPower = 0.80

	// z95 is the two-tailed critical value for the reported 95%
	// confidence interval on the rate difference.
	z95 = 1.96
)

// ConfidenceInterval bounds the true conversion-rate difference at 95%.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// VariantResult is the pairwise test of one variant against control.
// Rates are proportions in [0,1]; RelativeLift is a percentage.
type VariantResult struct {
	VariantID          string             `json:"variant_id"`
	VariantName        string             `json:"variant_name"`
	ControlRate        float64            `json:"control_rate"`
	VariantRate        float64            `json:"variant_rate"`
	RateDiff           float64            `json:"rate_diff"`
	RelativeLift       float64            `json:"relative_lift"`
	ZScore             float64            `json:"z_score"`
	PValue             float64            `json:"p_value"`
	IsSignificant      bool               `json:"is_significant"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	SampleSize         int                `json:"sample_size"`
	RequiredSampleSize int                `json:"required_sample_size"`
}

// Analysis is the full verdict for an experiment: one pairwise result per
// non-control variant plus the go/no-go recommendation.
type Analysis struct {
	ExperimentID     string          `json:"experiment_id"`
	ControlVariantID string          `json:"control_variant_id"`
	Results          []VariantResult `json:"results"`
	Winner           *VariantResult  `json:"winner,omitempty"`
	IsComplete       bool            `json:"is_complete"`
	Recommendation   string          `json:"recommendation"`
}

// Analyzer computes fixed-horizon two-proportion z-tests over a metrics
// snapshot. It performs no mutation and is safe to run concurrently over
// independent experiments.
type Analyzer struct {
	threshold float64
}

func NewAnalyzer(significanceThreshold float64) *Analyzer {
	if significanceThreshold <= 0 || significanceThreshold >= 1 {
		significanceThreshold = DefaultSignificanceThreshold
	}
	return &Analyzer{threshold: significanceThreshold}
}

// Analyze tests every non-control variant against the control found in
// the supplied snapshot. The snapshot should be produced once by the
// collector so all variants are compared at the same instant.
func (a *Analyzer) Analyze(m *metrics.ExperimentMetrics, controlVariantID string) (*Analysis, error) {
	control := m.VariantByID(controlVariantID)
	if control == nil {
		return nil, fmt.Errorf("control variant %s not found in metrics", controlVariantID)
	}

	out := &Analysis{
		ExperimentID:     m.ExperimentID,
		ControlVariantID: controlVariantID,
		Results:          make([]VariantResult, 0, len(m.Variants)),
	}

	for i := range m.Variants {
		v := &m.Variants[i]
		if v.VariantID == controlVariantID {
			continue
		}
		out.Results = append(out.Results, a.compare(control, v))
	}

	// Winner: largest positive significant lift, first encountered wins
	// ties.
	winner := -1
	for i, r := range out.Results {
		if !r.IsSignificant || r.RelativeLift <= 0 {
			continue
		}
		if winner < 0 || r.RelativeLift > out.Results[winner].RelativeLift {
			winner = i
		}
	}
	if winner >= 0 {
		out.Winner = &out.Results[winner]
	}

	out.IsComplete = true
	for _, r := range out.Results {
		if r.SampleSize < r.RequiredSampleSize {
			out.IsComplete = false
			break
		}
	}

	switch {
	case !out.IsComplete:
		out.Recommendation = "Continue collecting data: not every variant has reached its required sample size."
	case out.Winner != nil:
		out.Recommendation = fmt.Sprintf("Implement %s pricing: %.1f%% lift in conversion rate over control.",
			out.Winner.VariantName, out.Winner.RelativeLift)
	default:
		out.Recommendation = "No statistically significant winner. Consider extending the experiment or testing larger price variations."
	}
	return out, nil
}

// compare runs the pooled two-proportion z-test of variant against
// control. Zero-denominator conditions degrade to 0 rather than erroring:
// a variant with no traffic yet is an expected steady state.
func (a *Analyzer) compare(control, variant *metrics.VariantMetrics) VariantResult {
	n1, x1 := control.Visitors, control.Conversions
	n2, x2 := variant.Visitors, variant.Conversions

	controlRate := safeRate(x1, n1)
	variantRate := safeRate(x2, n2)
	rateDiff := variantRate - controlRate

	relativeLift := 0.0
	if controlRate > 0 {
		relativeLift = rateDiff / controlRate * 100
	}

	var se float64
	if n1 > 0 && n2 > 0 {
		pooled := float64(x1+x2) / float64(n1+n2)
		se = math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	}

	z := 0.0
	if se > 0 {
		z = rateDiff / se
	}
	pValue := 2 * (1 - NormalCDF(math.Abs(z)))

	return VariantResult{
		VariantID:     variant.VariantID,
		VariantName:   variant.VariantName,
		ControlRate:   controlRate,
		VariantRate:   variantRate,
		RateDiff:      rateDiff,
		RelativeLift:  relativeLift,
		ZScore:        z,
		PValue:        pValue,
		IsSignificant: pValue < a.threshold,
		ConfidenceInterval: ConfidenceInterval{
			Lower: rateDiff - z95*se,
			Upper: rateDiff + z95*se,
		},
		SampleSize:         n2,
		RequiredSampleSize: a.RequiredSampleSize(controlRate, minimumDetectableEffect),
	}
}

// RequiredSampleSize returns the per-group n needed to detect an absolute
// conversion-rate change of mde from baselineRate with 80% power at the
// analyzer's significance threshold, using the standard two-proportion
// power formula. Exposed so callers can size an experiment before
// running it.
func (a *Analyzer) RequiredSampleSize(baselineRate, mde float64) int {
	if mde <= 0 {
		return 0
	}
	p1 := baselineRate
	p2 := baselineRate + mde
	pBar := (p1 + p2) / 2

	zAlpha := InverseNormalCDF(1 - a.threshold/2)
	zBeta := InverseNormalCDF(targetPower)

	n := 2 * pBar * (1 - pBar) * math.Pow(zAlpha+zBeta, 2) / math.Pow(p2-p1, 2)
	return int(math.Ceil(n))
}

func safeRate(conversions, visitors int) float64 {
	if visitors == 0 {
		return 0
	}
	return float64(conversions) / float64(visitors)
}
