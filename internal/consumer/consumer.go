package consumer

import (
	"context"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionCommander is the slice of the command side the inbound
// transaction consumers need.
type TransactionCommander interface {
	Credit(ctx context.Context, transactionID, accountID uuid.UUID, amount decimal.Decimal, currency string, source domain.TransactionSource) error
	Debit(ctx context.Context, transactionID, accountID uuid.UUID, amount decimal.Decimal, currency string, source domain.TransactionSource) error
}
