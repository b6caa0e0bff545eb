package handlers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/services"
	xhttp "github.com/takoyadon/loyalty-ledger/pkg/http"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
)

const (
	HeaderUserID   = xhttp.HeaderUserID
	HeaderUserRole = xhttp.HeaderUserRole
)

type errorResponse = xhttp.ErrorBody

// caller is the identity the auth proxy forwards with every request.
type caller struct {
	ID   string
	Role model.Role
}

func (c caller) owns(accountID string) bool { return c.ID == accountID }

func callerFrom(ctx *xhttp.RequestCtx) (caller, bool) {
	c := caller{
		ID:   strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderUserID))),
		Role: model.Role(strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderUserRole)))),
	}
	return c, c.ID != "" && c.Role.Valid()
}

// authorize writes 401 or 403 and returns false when the caller lacks cap.
func authorize(ctx *xhttp.RequestCtx, capability model.Capability) (caller, bool) {
	c, ok := callerFrom(ctx)
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "unauthenticated", "missing or invalid caller identity")
		return c, false
	}
	if capability != "" && !c.Role.Can(capability) {
		writeError(ctx, xhttp.StatusForbidden, "forbidden", "role "+string(c.Role)+" cannot "+string(capability))
		return c, false
	}
	return c, true
}

// authorizeAccount lets the owner through, and staff holding CapViewAnyAccount.
func authorizeAccount(ctx *xhttp.RequestCtx, accountID string) (caller, bool) {
	c, ok := authorize(ctx, "")
	if !ok {
		return c, false
	}
	if !c.owns(accountID) && !c.Role.Can(model.CapViewAnyAccount) {
		writeError(ctx, xhttp.StatusForbidden, "forbidden", "account belongs to another customer")
		return c, false
	}
	return c, true
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	xhttp.WriteJSON(ctx, status, v)
}

func writeError(ctx *xhttp.RequestCtx, status int, code, msg string) {
	xhttp.WriteError(ctx, status, code, msg)
}

// writeServiceError maps the service error taxonomy onto HTTP.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	code := services.ErrorCode(err)
	status := statusFor(code)
	switch {
	case status >= xhttp.StatusInternalServerError:
		logger.Error("[handlers] request failed", "path", string(ctx.Path()), "code", code, "error", err)
	case status == xhttp.StatusUnprocessableEntity:
		prom.IncRejection(code)
	}
	writeError(ctx, status, code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case "invalid_request":
		return xhttp.StatusBadRequest
	case "account_not_found", "activity_not_found":
		return xhttp.StatusNotFound
	case "account_exists":
		return xhttp.StatusConflict
	case "store_unavailable":
		return xhttp.StatusServiceUnavailable
	case "idempotency_conflict", "internal":
		return xhttp.StatusInternalServerError
	default:
		return xhttp.StatusUnprocessableEntity
	}
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	n, _ := strconv.Atoi(query(ctx, key))
	return n
}
