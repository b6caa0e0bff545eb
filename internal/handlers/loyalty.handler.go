package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	xhttp "github.com/takoyadon/loyalty-ledger/pkg/http"
)

type LoyaltyService interface {
	Redeem(ctx context.Context, req model.RedeemRequest) (*model.LedgerResult, error)
	SubmitActivity(ctx context.Context, req model.ActivitySubmitRequest) (*model.Activity, error)
	ApproveActivity(ctx context.Context, activityID uuid.UUID, reviewer string) (*model.ActivityReview, error)
	RejectActivity(ctx context.Context, activityID uuid.UUID, reviewer string) (*model.Activity, error)
	PendingActivities(ctx context.Context, limit int) ([]*model.Activity, error)
	CompleteReferral(ctx context.Context, req model.ReferralCompleteRequest) (*model.LedgerResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	Rewards(ctx context.Context) ([]*model.Reward, error)
	Notifications(ctx context.Context, accountID string, limit int) ([]*model.Notification, int64, error)
	MarkNotificationsRead(ctx context.Context, accountID string, ids []uuid.UUID) (int64, error)
}

type LoyaltyHandler struct {
	svc LoyaltyService
}

func RegisterLoyaltyRoutes(g *router.Group, h *LoyaltyHandler) {
	g.GET("/accounts/{id}/balance", h.GetBalance)
	g.GET("/accounts/{id}/transactions", h.ListTransactions)
	g.POST("/redemptions", h.Redeem)
	g.GET("/rewards", h.ListRewards)
	g.POST("/activities", h.SubmitActivity)
	g.GET("/activities/pending", h.ListPendingActivities)
	g.POST("/activities/{id}/approve", h.ApproveActivity)
	g.POST("/activities/{id}/reject", h.RejectActivity)
	g.POST("/referrals/complete", h.CompleteReferral)
	g.GET("/notifications", h.ListNotifications)
	g.POST("/notifications/read", h.MarkNotificationsRead)
}

func NewLoyaltyHandler(svc LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{svc: svc}
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type transactionsResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

type notificationsResponse struct {
	Items  []*model.Notification `json:"items"`
	Unread int64                 `json:"unread"`
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

func (h *LoyaltyHandler) GetBalance(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if _, ok := authorizeAccount(ctx, id); !ok {
		return
	}
	balance, err := h.svc.Balance(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, balanceResponse{AccountID: id, Balance: balance})
}

func (h *LoyaltyHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if _, ok := authorizeAccount(ctx, id); !ok {
		return
	}
	f := model.TransactionFilter{
		AccountID: id,
		Limit:     queryInt(ctx, "limit"),
		Offset:    queryInt(ctx, "offset"),
	}
	items, total, err := h.svc.History(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, transactionsResponse{Items: items, Total: total})
}

// Redeem spends the caller's own points. An Idempotency-Key header stands in
// for request_id when the body has none.
func (h *LoyaltyHandler) Redeem(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, model.CapRedeem)
	if !ok {
		return
	}
	var req model.RedeemRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == "" {
		req.AccountID = c.ID
	}
	if !c.owns(req.AccountID) {
		writeError(ctx, xhttp.StatusForbidden, "forbidden", "customers can only redeem their own points")
		return
	}
	if req.RequestID == "" {
		req.RequestID = string(ctx.Request.Header.Peek("Idempotency-Key"))
	}

	res, err := h.svc.Redeem(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *LoyaltyHandler) ListRewards(ctx *xhttp.RequestCtx) {
	if _, ok := authorize(ctx, ""); !ok {
		return
	}
	items, err := h.svc.Rewards(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": items})
}

func (h *LoyaltyHandler) SubmitActivity(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, model.CapSubmitActivity)
	if !ok {
		return
	}
	var req model.ActivitySubmitRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == "" {
		req.AccountID = c.ID
	}
	if !c.owns(req.AccountID) {
		writeError(ctx, xhttp.StatusForbidden, "forbidden", "customers can only submit their own activities")
		return
	}

	activity, err := h.svc.SubmitActivity(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, activity)
}

func (h *LoyaltyHandler) ListPendingActivities(ctx *xhttp.RequestCtx) {
	if _, ok := authorize(ctx, model.CapReviewActivity); !ok {
		return
	}
	items, err := h.svc.PendingActivities(ctx, queryInt(ctx, "limit"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": items})
}

func (h *LoyaltyHandler) ApproveActivity(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, model.CapReviewActivity)
	if !ok {
		return
	}
	id, err := uuid.Parse(pathParam(ctx, "id"))
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	review, err := h.svc.ApproveActivity(ctx, id, c.ID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, review)
}

func (h *LoyaltyHandler) RejectActivity(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, model.CapReviewActivity)
	if !ok {
		return
	}
	id, err := uuid.Parse(pathParam(ctx, "id"))
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	activity, err := h.svc.RejectActivity(ctx, id, c.ID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, activity)
}

func (h *LoyaltyHandler) CompleteReferral(ctx *xhttp.RequestCtx) {
	if _, ok := authorize(ctx, model.CapCompleteReferral); !ok {
		return
	}
	var req model.ReferralCompleteRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	res, err := h.svc.CompleteReferral(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *LoyaltyHandler) ListNotifications(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, "")
	if !ok {
		return
	}
	items, unread, err := h.svc.Notifications(ctx, c.ID, queryInt(ctx, "limit"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, notificationsResponse{Items: items, Unread: unread})
}

func (h *LoyaltyHandler) MarkNotificationsRead(ctx *xhttp.RequestCtx) {
	c, ok := authorize(ctx, "")
	if !ok {
		return
	}
	var req markReadRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	n, err := h.svc.MarkNotificationsRead(ctx, c.ID, req.IDs)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, markReadResponse{Updated: n})
}
