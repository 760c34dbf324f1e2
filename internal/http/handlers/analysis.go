package handlers

import (
	"github.com/valyala/fasthttp"

	"pricelab/internal/experiment"
	"pricelab/internal/metrics"
	"pricelab/internal/stats"
)

// ExperimentMetricsHandler returns the collector's per-variant rollup for
// an experiment, with variant names resolved from the config.
func ExperimentMetricsHandler(svc *experiment.Service, collector *metrics.Collector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := svc.Get(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}

		m, err := collector.ExperimentMetrics(cfg.ID, cfg.VariantName)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to aggregate metrics")
			return
		}
		jsonResponse(ctx, m)
	}
}

// AnalysisHandler runs the significance analysis for an experiment. The
// control variant and significance threshold come from the experiment
// config; defaultThreshold backstops configs without one.
func AnalysisHandler(svc *experiment.Service, collector *metrics.Collector, defaultThreshold float64) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := svc.Get(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}

		control := cfg.ControlVariant()
		if control == nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "experiment has no control variant")
			return
		}

		m, err := collector.ExperimentMetrics(cfg.ID, cfg.VariantName)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to aggregate metrics")
			return
		}

		threshold := cfg.SignificanceThreshold
		if threshold <= 0 || threshold >= 1 {
			threshold = defaultThreshold
		}
		analyzer := stats.NewAnalyzer(threshold)
		analysis, err := analyzer.Analyze(m, control.ID)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(ctx, analysis)
	}
}
