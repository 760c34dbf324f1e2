package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	"pricelab/internal/experiment"
)

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Printf("%s %s -> %d (%s) ip=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start), ctx.RemoteAddr())
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// serviceError maps a domain error to the right status code: 404 for
// unknown experiments, 409 for disallowed lifecycle transitions, 500
// otherwise.
func serviceError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		errResponse(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, experiment.ErrInvalidTransition):
		errResponse(ctx, fasthttp.StatusConflict, err.Error())
	default:
		errResponse(ctx, fasthttp.StatusInternalServerError, err.Error())
	}
}

func pathID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("id").(string)
	return id
}
