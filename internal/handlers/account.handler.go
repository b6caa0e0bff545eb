package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	xhttp "github.com/takoyadon/loyalty-ledger/pkg/http"
)

type AccountService interface {
	Register(ctx context.Context, req model.AccountCreateRequest) (*model.Account, error)
	Deactivate(ctx context.Context, id string) (*model.Account, error)
}

type AccountHandler struct {
	svc AccountService
}

func RegisterAccountRoutes(g *router.Group, h *AccountHandler) {
	g.POST("/accounts", h.CreateAccount)
	g.POST("/accounts/{id}/deactivate", h.DeactivateAccount)
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) CreateAccount(ctx *xhttp.RequestCtx) {
	if _, ok := authorize(ctx, model.CapManageAccounts); !ok {
		return
	}
	var req model.AccountCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	acc, err := h.svc.Register(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, acc)
}

func (h *AccountHandler) DeactivateAccount(ctx *xhttp.RequestCtx) {
	if _, ok := authorize(ctx, model.CapDeactivate); !ok {
		return
	}
	acc, err := h.svc.Deactivate(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, acc)
}
