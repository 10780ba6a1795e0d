package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/middleware"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/query"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	Initiate(ctx context.Context, accountID uuid.UUID, accountType, currency string, customerID uuid.UUID) error
	Close(ctx context.Context, accountID uuid.UUID) error
}

// BalanceQuerier defines the read-side operations used by AccountHandler.
type BalanceQuerier interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*query.BalanceView, error)
}

// AccountHandler handles account-related HTTP requests. Mutating commands
// answer 202 Accepted whatever the domain outcome: rejections land in the
// account's stream, not in the HTTP response.
type AccountHandler struct {
	commands AccountCommander
	queries  BalanceQuerier
}

func NewAccountHandler(commands AccountCommander, queries BalanceQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

type CreateAccountRequest struct {
	AccountID   string `json:"accountId" validate:"required,uuid4"`
	CustomerID  string `json:"customerId" validate:"required,uuid4"`
	AccountType string `json:"accountType" validate:"required"`
	Currency    string `json:"currency" validate:"required"`
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	if customerID, ok := middleware.GetCustomerID(c); ok && customerID != req.CustomerID {
		middleware.RespondWithError(c, http.StatusForbidden, "You can only initiate accounts for yourself")
		return
	}

	accountID := uuid.MustParse(req.AccountID)
	customerID := uuid.MustParse(req.CustomerID)
	if err := h.commands.Initiate(c.Request.Context(), accountID, req.AccountType, req.Currency, customerID); err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to initiate account")
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *AccountHandler) CloseAccount(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account id")
		return
	}

	if err := h.commands.Close(c.Request.Context(), accountID); err != nil {
		respondWithReadError(c, err, "Failed to close account")
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *AccountHandler) GetBalance(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account id")
		return
	}

	view, err := h.queries.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		respondWithReadError(c, err, "Failed to read balance")
		return
	}
	c.JSON(http.StatusOK, view)
}

func respondWithReadError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Account not found")
	case errors.Is(err, repository.ErrAccountNotUpToDate):
		middleware.RespondWithError(c, http.StatusConflict, "Account is not up to date, retry shortly")
	default:
		middleware.RespondWithError(c, http.StatusInternalServerError, fallback)
	}
}
