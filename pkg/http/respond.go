package xhttp

import (
	"encoding/json"
)

const contentTypeJSON = "application/json; charset=utf-8"

// ErrorBody is the JSON shape of every error response, including the ones
// produced by the router and the middleware.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(ctx *RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		WriteError(ctx, StatusInternalServerError, "internal", "failed to encode response")
		return
	}
	ctx.Response.Header.Set("Content-Type", contentTypeJSON)
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func WriteError(ctx *RequestCtx, status int, code, msg string) {
	b, _ := json.Marshal(ErrorBody{Error: msg, Code: code})
	ctx.Response.Header.Set("Content-Type", contentTypeJSON)
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}
