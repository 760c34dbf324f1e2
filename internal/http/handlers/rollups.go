package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "pricelab/internal/db"
	"pricelab/internal/experiment"
)

// BucketReader returns the stored hourly rollups for an experiment from
// a cutoff time, oldest first.
type BucketReader func(experimentID string, cutoff time.Time) ([]dbpkg.VariantBucket, error)

// rollupCutoff reads "hours" (float, e.g. 0.5 or 6) or "days" (int) from
// query and returns the cutoff time. Defaults to the last 24 hours.
func rollupCutoff(ctx *fasthttp.RequestCtx) time.Time {
	now := time.Now()
	if h := string(ctx.QueryArgs().Peek("hours")); h != "" {
		if f, err := strconv.ParseFloat(h, 64); err == nil && f > 0 {
			return now.Add(-time.Duration(f * float64(time.Hour)))
		}
	}
	days := 1
	if d := string(ctx.QueryArgs().Peek("days")); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			days = n
		}
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// RollupSeries serves the hourly per-variant time series maintained by
// the rollup worker, for dashboards that chart experiment traffic over
// time without scanning the raw event log.
func RollupSeries(svc *experiment.Service, read BucketReader) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := svc.Get(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}

		buckets, err := read(cfg.ID, rollupCutoff(ctx).UTC())
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query rollups")
			return
		}

		series := make([]map[string]any, 0, len(buckets))
		for _, b := range buckets {
			rate := 0.0
			if b.Visitors > 0 {
				rate = float64(b.Conversions) / float64(b.Visitors) * 100
			}
			// BucketStart is stored as UTC; interpret as UTC so clients get the correct instant.
			utc := time.Date(b.BucketStart.Year(), b.BucketStart.Month(), b.BucketStart.Day(),
				b.BucketStart.Hour(), 0, 0, 0, time.UTC)
			series = append(series, map[string]any{
				"bucket":          utc.Format("2006-01-02T15:04:05") + "Z",
				"variant_id":      b.VariantID,
				"variant_name":    cfg.VariantName(b.VariantID),
				"visitors":        b.Visitors,
				"clicks":          b.Clicks,
				"conversions":     b.Conversions,
				"conversion_rate": rate,
				"revenue_cents":   b.RevenueCents,
			})
		}
		jsonResponse(ctx, map[string]any{"experiment_id": cfg.ID, "series": series})
	}
}
