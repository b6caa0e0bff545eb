package xhttp

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// Identity headers are set by the auth proxy in front of the API.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-Id"
)

const slowThreshold = 500 * time.Millisecond

var skipPaths = []string{"/health", "/metrics"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.TimeoutWithCodeHandler(next, timeout, `{"error":"request timed out","code":"timeout"}`, StatusRequestTimeout)
	}
}

func CompressMiddleware(level int) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.CompressHandlerBrotliLevel(next, level, level)
	}
}

func RecoverMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("[xhttp] panic recovered", "path", string(ctx.Path()), "request_id", requestID(ctx), "error", err)
				WriteError(ctx, StatusInternalServerError, "internal", StatusText(StatusInternalServerError))
			}
		}()
		next(ctx)
	}
}

// RequestLoggerMiddleware logs every API call with the caller identity. A
// request without X-Request-Id gets one, echoed back on the response.
func RequestLoggerMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		if shouldSkip(path) {
			next(ctx)
			return
		}

		id := requestID(ctx)
		if id == "" {
			id = uuid.NewString()
			ctx.Request.Header.Set(HeaderRequestID, id)
		}

		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set(HeaderRequestID, id)

		latency := time.Since(start)
		status := ctx.Response.StatusCode()
		fields := []any{
			"status", status,
			"method", string(ctx.Method()),
			"path", path,
			"latency", latency.String(),
			"bytes_in", len(ctx.PostBody()),
			"bytes_out", len(ctx.Response.Body()),
			"ip", ctx.RemoteIP().String(),
			"user_id", string(ctx.Request.Header.Peek(HeaderUserID)),
			"role", string(ctx.Request.Header.Peek(HeaderUserRole)),
			"request_id", id,
		}

		lg := logger.GetLogger()
		switch {
		case status >= 500:
			lg.Error("http_request", fields...)
		case status >= 400 || latency > slowThreshold:
			lg.Warn("http_request", fields...)
		default:
			lg.Info("http_request", fields...)
		}
	}
}

// RateLimitMiddleware sheds load above rps with a shared token bucket.
func RateLimitMiddleware(rps float64, burst int) MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			if shouldSkip(string(ctx.Path())) || limiter.Allow() {
				next(ctx)
				return
			}
			ctx.Response.Header.Set("Retry-After", "1")
			WriteError(ctx, StatusTooManyRequests, "rate_limited", StatusText(StatusTooManyRequests))
		}
	}
}

func shouldSkip(p string) bool {
	for _, sp := range skipPaths {
		if strings.HasPrefix(p, sp) {
			return true
		}
	}
	return false
}

func requestID(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Request.Header.Peek(HeaderRequestID))
}
