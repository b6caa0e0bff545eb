package services

import (
	"context"

	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
)

type AccountRepository interface {
	Create(ctx context.Context, acc *model.Account) (*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
	Deactivate(ctx context.Context, id string) error
}

type AccountService struct {
	repo AccountRepository
}

func NewAccountService(repo AccountRepository) *AccountService {
	return &AccountService{repo: repo}
}

// Register opens an account with a zero balance. Points only arrive through ledger entries.
func (s *AccountService) Register(ctx context.Context, req model.AccountCreateRequest) (*model.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	acc, err := s.repo.Create(ctx, &model.Account{
		ID:     req.ID,
		Email:  req.Email,
		Role:   req.Role,
		Active: true,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	logger.Info("[accounts] registered", "account_id", acc.ID, "role", acc.Role)
	return acc, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (*model.Account, error) {
	acc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return acc, nil
}

// Deactivate blocks further ledger entries. History and balance are kept.
func (s *AccountService) Deactivate(ctx context.Context, id string) (*model.Account, error) {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return nil, storeErr(err)
	}
	logger.Info("[accounts] deactivated", "account_id", id)
	return s.Get(ctx, id)
}
