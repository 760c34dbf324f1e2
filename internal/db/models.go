package db

import (
	"time"

	"gorm.io/datatypes"
)

// Experiment is a stored experiment definition. Variants and targeting
// rules are kept as JSON documents so the variant shape can evolve
// without schema changes.
type Experiment struct {
	ID string `gorm:"primaryKey;size:64"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Name       string `gorm:"size:255;not null"`
	Hypothesis string

	ProductID string `gorm:"index;size:128"`
	Status    string `gorm:"index;size:16;not null"`

	StartDate time.Time
	EndDate   *time.Time

	Variants       datatypes.JSON `gorm:"type:json"`
	TargetingRules datatypes.JSON `gorm:"type:json"`

	MinimumSampleSize     int
	SignificanceThreshold float64
}

// Override pins a (user, experiment) pair to a specific variant. The
// composite unique index is the durable form of the allocator's
// two-part override key.
type Override struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	UserID       string `gorm:"uniqueIndex:idx_override_unique,priority:1;size:128;not null"`
	ExperimentID string `gorm:"uniqueIndex:idx_override_unique,priority:2;size:64;not null"`
	VariantID    string `gorm:"size:64;not null"`
}

// Event is one row of the append-only metric event log. Rows are never
// updated or deleted once written.
type Event struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	ExperimentID string `gorm:"index;size:64;not null"`
	VariantID    string `gorm:"index;size:64;not null"`
	UserID       string `gorm:"index;size:128"`

	// Type is view, click, conversion, or revenue.
	Type string `gorm:"size:16;not null"`

	// ValueCents carries the amount for revenue events; 0 otherwise.
	ValueCents float64

	// Metadata holds arbitrary key/value pairs attached by the caller
	// (e.g. plan, region) without schema changes.
	Metadata datatypes.JSONMap `gorm:"type:json"`
}

// VariantBucket stores pre-aggregated hourly counters per
// (experiment, variant). Filled by the rollup worker and served as a
// time series by the rollups endpoint; the collector's on-demand
// aggregation does not read it.
type VariantBucket struct {
	ID uint `gorm:"primaryKey"`

	ExperimentID string    `gorm:"uniqueIndex:idx_variant_bucket_unique,priority:1;size:64;not null"`
	VariantID    string    `gorm:"uniqueIndex:idx_variant_bucket_unique,priority:2;size:64;not null"`
	BucketStart  time.Time `gorm:"uniqueIndex:idx_variant_bucket_unique,priority:3;not null"` // start of the hour (UTC)

	Visitors     int64 `gorm:"not null"`
	Clicks       int64 `gorm:"not null"`
	Conversions  int64 `gorm:"not null"`
	RevenueCents float64
}
