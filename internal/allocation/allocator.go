package allocation

import (
	"fmt"

	"pricelab/internal/experiment"
)

// DefaultSalt is the bucketing salt used when none is configured. Two
// allocators with different salts bucket the same subject independently,
// which keeps overlapping experiments uncorrelated.
const DefaultSalt = "pricelab-bucketing-v1"

// buckets is the bucketing granularity: hashes are normalized into
// [0, 10000), giving 0.01% resolution against allocation percentages.
const buckets = 10000

// OverrideKey identifies a manual assignment. A composite key is used
// instead of string concatenation so ids containing the separator
// character can never collide.
type OverrideKey struct {
	UserID       string
	ExperimentID string
}

// OverrideStore is the persistence boundary for manual variant overrides.
type OverrideStore interface {
	Set(key OverrideKey, variantID string) error
	Get(key OverrideKey) (string, bool, error)
	Clear() error
}

// Result is the outcome of bucketing one subject into one experiment.
// It is computed fresh on every call and never stored by the allocator.
type Result struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	VariantName  string `json:"variant_name"`
	PriceInCents int    `json:"price_in_cents"`
	IsControl    bool   `json:"is_control"`
	Hash         int    `json:"hash"`
}

// VariantShare is one row of an observed allocation distribution.
type VariantShare struct {
	VariantID   string  `json:"variant_id"`
	VariantName string  `json:"variant_name"`
	Count       int     `json:"count"`
	Percent     float64 `json:"percent"`
}

// Allocator deterministically maps (subject, experiment) pairs to
// variants. The hash computation is pure; only the override table is
// mutable state.
type Allocator struct {
	salt      string
	overrides OverrideStore
}

func NewAllocator(salt string, overrides OverrideStore) *Allocator {
	if salt == "" {
		salt = DefaultSalt
	}
	return &Allocator{salt: salt, overrides: overrides}
}

// Allocate returns the variant for a subject, or nil when the experiment
// is not bucketing traffic. Overrides are honored first, regardless of
// experiment status; after that, non-active experiments never allocate.
func (a *Allocator) Allocate(cfg *experiment.Config, userID string) (*Result, error) {
	if a.overrides != nil {
		variantID, ok, err := a.overrides.Get(OverrideKey{UserID: userID, ExperimentID: cfg.ID})
		if err != nil {
			return nil, err
		}
		if ok {
			// Honor the override only while the variant still exists;
			// stale overrides fall through to normal bucketing.
			if v := cfg.VariantByID(variantID); v != nil {
				return resultFor(cfg, v, 0), nil
			}
		}
	}

	if cfg.Status != experiment.StatusActive {
		return nil, nil
	}

	h := bucketHash(a.salt + ":" + userID + ":" + cfg.ID)
	return resultFor(cfg, a.pick(cfg, h%buckets), h), nil
}

// pick walks the variant list in order, accumulating allocation shares
// scaled to bucket units, and selects the first variant whose cumulative
// share exceeds the bucket. Falls back to the last variant so an active,
// well-formed experiment always yields an assignment even under floating
// error.
func (a *Allocator) pick(cfg *experiment.Config, bucket int) *experiment.Variant {
	cumulative := 0.0
	for i := range cfg.Variants {
		cumulative += cfg.Variants[i].AllocationPercent * (buckets / 100)
		if float64(bucket) < cumulative {
			return &cfg.Variants[i]
		}
	}
	return &cfg.Variants[len(cfg.Variants)-1]
}

// SetOverride pins a subject to a specific variant of an experiment.
func (a *Allocator) SetOverride(userID, experimentID, variantID string) error {
	if a.overrides == nil {
		return fmt.Errorf("allocator has no override store")
	}
	return a.overrides.Set(OverrideKey{UserID: userID, ExperimentID: experimentID}, variantID)
}

// ClearOverrides drops every manual assignment.
func (a *Allocator) ClearOverrides() error {
	if a.overrides == nil {
		return nil
	}
	return a.overrides.Clear()
}

// Distribution buckets sampleSize synthetic subjects and reports the
// observed count and percentage per variant, in variant-list order. It
// exercises the hash walk directly, ignoring status and overrides, so a
// draft experiment can be validated before activation.
func (a *Allocator) Distribution(cfg *experiment.Config, sampleSize int) []VariantShare {
	counts := make(map[string]int, len(cfg.Variants))
	for i := 0; i < sampleSize; i++ {
		userID := fmt.Sprintf("test-user-%d", i)
		h := bucketHash(a.salt + ":" + userID + ":" + cfg.ID)
		counts[a.pick(cfg, h%buckets).ID]++
	}

	out := make([]VariantShare, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		share := VariantShare{VariantID: v.ID, VariantName: v.Name, Count: counts[v.ID]}
		if sampleSize > 0 {
			share.Percent = float64(share.Count) / float64(sampleSize) * 100
		}
		out = append(out, share)
	}
	return out
}

// VerifyConsistency re-allocates the same subject n times and reports
// whether every call returned the same variant.
func (a *Allocator) VerifyConsistency(cfg *experiment.Config, userID string, n int) (bool, error) {
	var first *Result
	for i := 0; i < n; i++ {
		res, err := a.Allocate(cfg, userID)
		if err != nil {
			return false, err
		}
		if res == nil {
			return false, nil
		}
		if first == nil {
			first = res
			continue
		}
		if res.VariantID != first.VariantID {
			return false, nil
		}
	}
	return first != nil, nil
}

// bucketHash computes a deterministic non-negative hash of s using the
// polynomial rolling scheme h = h*31 + code, wrapped to signed 32 bits.
// The function is pinned: changing it would silently rebucket every
// subject of every running experiment.
func bucketHash(s string) int {
	var h int32
	for _, r := range s {
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v)
}

func resultFor(cfg *experiment.Config, v *experiment.Variant, hash int) *Result {
	return &Result{
		ExperimentID: cfg.ID,
		VariantID:    v.ID,
		VariantName:  v.Name,
		PriceInCents: v.PriceInCents,
		IsControl:    v.IsControl,
		Hash:         hash,
	}
}
