package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"pricelab/internal/experiment"
)

// CreateExperiment validates and stores a new experiment in draft status.
// Invariant violations (variant count, allocation sum, control count)
// come back as 400 with the violated invariant in the body.
func CreateExperiment(svc *experiment.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var params experiment.CreateParams
		if err := json.Unmarshal(ctx.PostBody(), &params); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		cfg, err := svc.Create(params)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}

		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, cfg)
	}
}

func GetExperiment(svc *experiment.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := svc.Get(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}
		jsonResponse(ctx, cfg)
	}
}

// ListActiveExperiments returns active experiments for a product.
func ListActiveExperiments(svc *experiment.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		productID := string(ctx.QueryArgs().Peek("product_id"))
		cfgs, err := svc.ListActive(productID)
		if err != nil {
			serviceError(ctx, err)
			return
		}
		if cfgs == nil {
			cfgs = []*experiment.Config{}
		}
		jsonResponse(ctx, map[string]any{"experiments": cfgs})
	}
}

func ActivateExperiment(svc *experiment.Service) fasthttp.RequestHandler {
	return lifecycleHandler(svc.Activate)
}

func PauseExperiment(svc *experiment.Service) fasthttp.RequestHandler {
	return lifecycleHandler(svc.Pause)
}

func CompleteExperiment(svc *experiment.Service) fasthttp.RequestHandler {
	return lifecycleHandler(svc.Complete)
}

func lifecycleHandler(transition func(id string) (*experiment.Config, error)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := transition(pathID(ctx))
		if err != nil {
			serviceError(ctx, err)
			return
		}
		jsonResponse(ctx, cfg)
	}
}
