package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	httpctx "pricelab/internal/http/ctx"
	"pricelab/internal/metrics"
)

type ingestEvent struct {
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id"`
	UserID       string         `json:"user_id"`
	EventType    string         `json:"event_type"`
	Value        float64        `json:"value,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ingestRequest struct {
	Events []ingestEvent `json:"events"`
}

func validEventType(t string) bool {
	switch metrics.EventType(t) {
	case metrics.EventView, metrics.EventClick, metrics.EventConversion, metrics.EventRevenue:
		return true
	}
	return false
}

// IngestHandler records a batch of metric events. Events missing an
// experiment, variant, or known type are skipped; the surviving batch is
// written in a single store call, so a store failure records nothing.
// Events arriving through an API key are stamped with the key name.
func IngestHandler(collector *metrics.Collector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload ingestRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(payload.Events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		keyName := ""
		if ak, ok := httpctx.APIKeyFromCtx(ctx); ok && ak != nil {
			keyName = ak.Name
		}

		batch := make([]metrics.Event, 0, len(payload.Events))
		for _, ev := range payload.Events {
			if ev.ExperimentID == "" || ev.VariantID == "" || !validEventType(ev.EventType) {
				continue
			}

			md := ev.Metadata
			if keyName != "" {
				if md == nil {
					md = map[string]any{}
				}
				md["ingested_by"] = keyName
			}

			batch = append(batch, metrics.Event{
				ExperimentID: ev.ExperimentID,
				VariantID:    ev.VariantID,
				UserID:       ev.UserID,
				Type:         metrics.EventType(ev.EventType),
				Value:        ev.Value,
				Metadata:     md,
			})
		}

		if len(batch) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no valid events after validation")
			return
		}

		if err := collector.RecordBatch(batch); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to persist events")
			return
		}

		for _, ev := range batch {
			eventsTotal.WithLabelValues(ev.ExperimentID, ev.VariantID, string(ev.Type)).Inc()
			if ev.Type == metrics.EventRevenue {
				revenueCentsTotal.WithLabelValues(ev.ExperimentID, ev.VariantID).Add(ev.Value)
			}
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"accepted","count":` + strconv.Itoa(len(batch)) + `}`)
	}
}

// UserEvents returns the raw event subsequence for one subject, for
// debugging and audit.
func UserEvents(collector *metrics.Collector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		userID := string(ctx.QueryArgs().Peek("user_id"))
		if userID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "user_id is required")
			return
		}
		events, err := collector.UserEvents(pathID(ctx), userID)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query events")
			return
		}
		if events == nil {
			events = []metrics.Event{}
		}
		jsonResponse(ctx, map[string]any{"events": events})
	}
}
