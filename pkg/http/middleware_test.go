package xhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func newCtx(method, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestRateLimitMiddleware(t *testing.T) {
	calls := 0
	h := RateLimitMiddleware(0.0001, 2)(func(ctx *RequestCtx) {
		calls++
		ctx.SetStatusCode(StatusOK)
	})

	for i := 0; i < 2; i++ {
		ctx := newCtx("GET", "/api/v1/rewards")
		h(ctx)
		assert.Equal(t, StatusOK, ctx.Response.StatusCode())
	}

	ctx := newCtx("GET", "/api/v1/rewards")
	h(ctx)
	assert.Equal(t, StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "1", string(ctx.Response.Header.Peek("Retry-After")))

	health := newCtx("GET", "/health/live")
	h(health)
	assert.Equal(t, StatusOK, health.Response.StatusCode())
	assert.Equal(t, 3, calls)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(ctx *RequestCtx) {
		panic("boom")
	})
	ctx := newCtx("POST", "/api/v1/redemptions")

	assert.NotPanics(t, func() { h(ctx) })
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
}

func TestEngineChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next RequestHandler) RequestHandler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	e := CreateServer()
	e.Use(mark("outer"))
	e.Use(mark("inner"))
	e.GET("/ping", func(ctx *RequestCtx) {
		order = append(order, "handler")
	})

	h := e.Chain()
	h(newCtx("GET", "/ping"))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)

	ctx := newCtx("GET", "/nope")
	e.Chain()(ctx)
	assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
}

func TestRequestLoggerMiddleware_AssignsRequestID(t *testing.T) {
	var seen string
	h := RequestLoggerMiddleware(func(ctx *RequestCtx) {
		seen = string(ctx.Request.Header.Peek(HeaderRequestID))
		ctx.SetStatusCode(StatusOK)
	})

	ctx := newCtx("GET", "/api/v1/rewards")
	h(ctx)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, string(ctx.Response.Header.Peek(HeaderRequestID)))

	ctx = newCtx("GET", "/api/v1/rewards")
	ctx.Request.Header.Set(HeaderRequestID, "req-42")
	h(ctx)
	assert.Equal(t, "req-42", string(ctx.Response.Header.Peek(HeaderRequestID)))
}

func TestDefaultRouter_ErrorBodies(t *testing.T) {
	r := CreateDefaultRouter()
	r.POST("/api/v1/redemptions", func(ctx *RequestCtx) { panic("boom") })

	ctx := newCtx("GET", "/api/v1/redemptions")
	r.Handler(ctx)
	assert.Equal(t, StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"Method Not Allowed","code":"method_not_allowed"}`, string(ctx.Response.Body()))

	ctx = newCtx("POST", "/api/v1/redemptions")
	r.Handler(ctx)
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"code":"internal"`)

	ctx = newCtx("GET", "/api/v1/missing")
	r.Handler(ctx)
	assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"code":"not_found"`)
}
