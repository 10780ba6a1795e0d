package query

import (
	"context"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountFinder is the staleness-guarded read over the projection.
type AccountFinder interface {
	FindCurrent(ctx context.Context, accountID uuid.UUID) (domain.Account, error)
}

type AccountQueryService struct {
	finder AccountFinder
}

func NewAccountQueryService(finder AccountFinder) *AccountQueryService {
	return &AccountQueryService{finder: finder}
}

// BalanceView is the public read model of an account's balance.
type BalanceView struct {
	AccountID      uuid.UUID       `json:"accountId"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
}

// GetBalance serves the projection's balance, refusing to answer while the
// projection lags behind the event stream.
func (s *AccountQueryService) GetBalance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error) {
	account, err := s.finder.FindCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		AccountID:      account.ID,
		CurrentBalance: account.Balance,
		Status:         string(account.Status),
		Currency:       account.Currency,
	}, nil
}
