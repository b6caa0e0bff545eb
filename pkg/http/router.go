package xhttp

import (
	"github.com/fasthttp/router"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
)

type Router = router.Router

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router whose 404, 405 and panic responses use
// the API error body.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.PanicHandler = PanicHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	WriteError(ctx, StatusNotFound, "not_found", "no route for "+string(ctx.Method())+" "+string(ctx.Path()))
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	WriteError(ctx, StatusMethodNotAllowed, "method_not_allowed", StatusText(StatusMethodNotAllowed))
}

// PanicHandler answers 500 for a handler that panicked inside the router.
func PanicHandler(ctx *RequestCtx, rcv interface{}) {
	logger.Error("[xhttp] handler panic", "path", string(ctx.Path()), "matched", ctx.UserValue(router.MatchedRoutePathParam), "panic", rcv)
	WriteError(ctx, StatusInternalServerError, "internal", StatusText(StatusInternalServerError))
}
