package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"pricelab/internal/allocation"
	"pricelab/internal/experiment"
)

type allocateRequest struct {
	ExperimentID string         `json:"experiment_id"`
	UserID       string         `json:"user_id"`
	Context      map[string]any `json:"context,omitempty"`
}

// Allocate buckets a subject into an experiment. Responds with
// allocated=false when the experiment is not active, or when the subject
// context fails the experiment's targeting rules.
func Allocate(svc *experiment.Service, alloc *allocation.Allocator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req allocateRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ExperimentID == "" || req.UserID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "experiment_id and user_id are required")
			return
		}

		cfg, err := svc.Get(req.ExperimentID)
		if err != nil {
			serviceError(ctx, err)
			return
		}

		if !svc.MatchesTargeting(cfg, req.Context) {
			jsonResponse(ctx, map[string]any{"allocated": false, "reason": "targeting"})
			return
		}

		res, err := alloc.Allocate(cfg, req.UserID)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "allocation failed")
			return
		}
		if res == nil {
			jsonResponse(ctx, map[string]any{"allocated": false, "reason": "experiment not active"})
			return
		}

		allocationsTotal.WithLabelValues(res.ExperimentID, res.VariantID).Inc()
		jsonResponse(ctx, map[string]any{"allocated": true, "allocation": res})
	}
}

type overrideRequest struct {
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id"`
	VariantID    string `json:"variant_id"`
}

// SetOverride pins a subject to a variant, bypassing bucketing.
func SetOverride(alloc *allocation.Allocator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req overrideRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ExperimentID == "" || req.UserID == "" || req.VariantID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "experiment_id, user_id and variant_id are required")
			return
		}
		if err := alloc.SetOverride(req.UserID, req.ExperimentID, req.VariantID); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to store override")
			return
		}
		jsonResponse(ctx, map[string]any{"status": "ok"})
	}
}

// ClearOverrides drops every manual assignment.
func ClearOverrides(alloc *allocation.Allocator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if err := alloc.ClearOverrides(); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to clear overrides")
			return
		}
		jsonResponse(ctx, map[string]any{"status": "ok"})
	}
}

// Distribution buckets synthetic subjects through an experiment and
// reports observed per-variant shares, for offline validation that the
// hash is not skewed.
func Distribution(svc *experiment.Service, alloc *allocation.Allocator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := svc.Get(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}

		sample := 10000
		if s := string(ctx.QueryArgs().Peek("sample")); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				if n > 1000000 {
					n = 1000000
				}
				sample = n
			}
		}

		jsonResponse(ctx, map[string]any{
			"experiment_id": cfg.ID,
			"sample_size":   sample,
			"distribution":  alloc.Distribution(cfg, sample),
		})
	}
}
