package db

import (
	"log"
	"time"

	"gorm.io/gorm"

	"pricelab/internal/metrics"
)

// runRollupOnce aggregates events for the given hour (bucketStart to
// bucketStart+1h) into VariantBucket rows. Call with bucketStart = time
// in UTC truncated to hour.
func runRollupOnce(db *gorm.DB, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Hour)

	var events []Event
	if err := db.Where("created_at >= ? AND created_at < ?", bucketStart, bucketEnd).
		Select("experiment_id", "variant_id", "type", "value_cents").
		Find(&events).Error; err != nil {
		return err
	}

	type key struct {
		ExperimentID string
		VariantID    string
	}
	counters := make(map[key]*VariantBucket)
	for _, e := range events {
		k := key{ExperimentID: e.ExperimentID, VariantID: e.VariantID}
		b, ok := counters[k]
		if !ok {
			b = &VariantBucket{
				ExperimentID: k.ExperimentID,
				VariantID:    k.VariantID,
				BucketStart:  bucketStart,
			}
			counters[k] = b
		}
		switch metrics.EventType(e.Type) {
		case metrics.EventView:
			b.Visitors++
		case metrics.EventClick:
			b.Clicks++
		case metrics.EventConversion:
			b.Conversions++
		case metrics.EventRevenue:
			b.RevenueCents += e.ValueCents
		}
	}

	for _, row := range counters {
		var existing VariantBucket
		err := db.Where("experiment_id = ? AND variant_id = ? AND bucket_start = ?",
			row.ExperimentID, row.VariantID, bucketStart).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			err = db.Create(row).Error
		} else if err == nil {
			err = db.Model(&existing).Updates(map[string]interface{}{
				"visitors":      row.Visitors,
				"clicks":        row.Clicks,
				"conversions":   row.Conversions,
				"revenue_cents": row.RevenueCents,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// BucketsSince returns the stored hourly rollups for an experiment with
// bucket_start >= cutoff, oldest first.
func BucketsSince(db *gorm.DB, experimentID string, cutoff time.Time) ([]VariantBucket, error) {
	var buckets []VariantBucket
	err := db.Where("experiment_id = ? AND bucket_start >= ?", experimentID, cutoff.UTC()).
		Order("bucket_start").Find(&buckets).Error
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// StartRollupWorker runs the rollup for the previous full hour at startup,
// then every hour. Buckets are in UTC.
func StartRollupWorker(db *gorm.DB) {
	go func() {
		// Backfill the last 24 completed hours at startup.
		now := time.Now().UTC()
		for i := 1; i <= 24; i++ {
			bucketStart := now.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
			if err := runRollupOnce(db, bucketStart); err != nil {
				log.Printf("rollup error (startup) for %s: %v", bucketStart.Format(time.RFC3339), err)
			}
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for t := range ticker.C {
			bucketStart := t.UTC().Truncate(time.Hour).Add(-time.Hour)
			if err := runRollupOnce(db, bucketStart); err != nil {
				log.Printf("rollup error for %s: %v", bucketStart.Format(time.RFC3339), err)
			}
		}
	}()
}
