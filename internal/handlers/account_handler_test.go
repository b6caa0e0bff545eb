package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/services"
)

type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Register(ctx context.Context, req model.AccountCreateRequest) (*model.Account, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockAccountService) Deactivate(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

type stubHealth map[string]error

func (s stubHealth) Ready(context.Context) map[string]error { return s }

func TestAccountHandler_CreateAccount(t *testing.T) {
	t.Run("admin registers an account", func(t *testing.T) {
		svc := new(MockAccountService)
		h := NewAccountHandler(svc)
		svc.On("Register", mock.Anything, model.AccountCreateRequest{ID: "u1", Email: "u1@example.com"}).
			Return(&model.Account{ID: "u1", Email: "u1@example.com", Role: model.RoleCustomer, Active: true}, nil)

		ctx := as(setupTestContext("POST", "/api/v1/accounts", []byte(`{"id":"u1","email":"u1@example.com"}`)), "admin", model.RoleFranchiseAdmin)
		h.CreateAccount(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), `"balance":0`)
	})

	t.Run("duplicate account", func(t *testing.T) {
		svc := new(MockAccountService)
		h := NewAccountHandler(svc)
		svc.On("Register", mock.Anything, mock.Anything).Return(nil, services.ErrAccountExists)

		ctx := as(setupTestContext("POST", "/api/v1/accounts", []byte(`{"id":"u1"}`)), "root", model.RoleSuperAdmin)
		h.CreateAccount(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
		assert.Equal(t, "account_exists", decodeError(t, ctx).Code)
	})

	t.Run("staff cannot register", func(t *testing.T) {
		h := NewAccountHandler(new(MockAccountService))
		ctx := as(setupTestContext("POST", "/api/v1/accounts", []byte(`{"id":"u1"}`)), "s1", model.RoleBranchStaff)
		h.CreateAccount(ctx)
		assert.Equal(t, 403, ctx.Response.StatusCode())
	})
}

func TestAccountHandler_DeactivateAccount(t *testing.T) {
	svc := new(MockAccountService)
	h := NewAccountHandler(svc)
	svc.On("Deactivate", mock.Anything, "u1").Return(&model.Account{ID: "u1", Active: false}, nil)

	ctx := as(setupTestContext("POST", "/api/v1/accounts/u1/deactivate", nil), "admin", model.RoleFranchiseAdmin)
	ctx.SetUserValue("id", "u1")
	h.DeactivateAccount(ctx)
	assert.Equal(t, 403, ctx.Response.StatusCode())

	ctx = as(setupTestContext("POST", "/api/v1/accounts/u1/deactivate", nil), "root", model.RoleSuperAdmin)
	ctx.SetUserValue("id", "u1")
	h.DeactivateAccount(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())
	svc.AssertExpectations(t)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(stubHealth{})
	ctx := setupTestContext("GET", "/health/ready", nil)
	h.Ready(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())

	h = NewHealthHandler(stubHealth{"redis": errors.New("redis ping: connection refused")})
	ctx = setupTestContext("GET", "/health/ready", nil)
	h.Ready(ctx)
	assert.Equal(t, 503, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "connection refused")

	ctx = setupTestContext("GET", "/health/live", nil)
	h.Live(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())
}
