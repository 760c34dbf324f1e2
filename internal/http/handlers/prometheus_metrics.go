package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

var (
	eventsTotal       *prometheus.CounterVec
	allocationsTotal  *prometheus.CounterVec
	revenueCentsTotal *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricelab",
			Name:      "events_total",
			Help:      "Total number of recorded metric events.",
		},
		[]string{"experiment", "variant", "event_type"},
	)
	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricelab",
			Name:      "allocations_total",
			Help:      "Total number of variant allocations served.",
		},
		[]string{"experiment", "variant"},
	)
	revenueCentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricelab",
			Name:      "revenue_cents_total",
			Help:      "Total recorded revenue in cents.",
		},
		[]string{"experiment", "variant"},
	)
	prometheus.MustRegister(eventsTotal, allocationsTotal, revenueCentsTotal)
}

// PrometheusHandler exposes gathered metrics in text format. When the
// "experiment" query parameter is set, metric families carrying an
// experiment label are filtered to that experiment's series.
func PrometheusHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		experimentID := string(ctx.QueryArgs().Peek("experiment"))

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to gather metrics")
			return
		}

		filtered := make([]*dto.MetricFamily, 0, len(metricFamilies))
		for _, mf := range metricFamilies {
			if experimentID == "" || !hasExperimentLabel(mf) {
				filtered = append(filtered, mf)
				continue
			}

			var kept []*dto.Metric
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "experiment" && l.GetValue() == experimentID {
						kept = append(kept, m)
						break
					}
				}
			}
			if len(kept) == 0 {
				continue
			}

			filtered = append(filtered, &dto.MetricFamily{
				Name:   mf.Name,
				Help:   mf.Help,
				Type:   mf.Type,
				Metric: kept,
			})
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func hasExperimentLabel(mf *dto.MetricFamily) bool {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "experiment" {
				return true
			}
		}
	}
	return false
}
