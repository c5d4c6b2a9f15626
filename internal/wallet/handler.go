package wallet

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/Niiaks/Patron/pkg/request"
	"github.com/Niiaks/Patron/pkg/response"
)

type WalletHandler struct {
	Service *WalletService
}

func NewWalletHandler(service *WalletService) *WalletHandler {
	return &WalletHandler{
		Service: service,
	}
}

type WithdrawRequest struct {
	UserID string `json:"userId" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

type ConnectLinkRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type CreditsRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=255"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type TransactionsResponse struct {
	Transactions []model.Transaction `json:"transactions"`
}

func (wh *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	var req WithdrawRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}
	if _, err := auth.RequireSelf(ctx, req.UserID); err != nil {
		response.WriteError(w, err)
		return
	}

	logger.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Msg("Received withdrawal request")

	if _, err := wh.Service.Withdraw(ctx, req.UserID, req.Amount, r.Header.Get(constants.IdempotencyKeyHeader)); err != nil {
		logger.Error().Err(err).Msg("Withdrawal failed")
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

func (wh *WalletHandler) CreateConnectLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConnectLinkRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}
	if _, err := auth.RequireSelf(ctx, req.UserID); err != nil {
		response.WriteError(w, err)
		return
	}

	url, err := wh.Service.CreateConnectAccountLink(ctx, req.UserID)
	if err != nil {
		middleware.GetLogger(ctx).Error().Err(err).Msg("Failed to create account link")
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, URLResponse{URL: url})
}

func (wh *WalletHandler) UseCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreditsRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}
	if _, err := auth.RequireSelf(ctx, req.UserID); err != nil {
		response.WriteError(w, err)
		return
	}

	if _, err := wh.Service.UseCredits(ctx, req.UserID, req.Amount, req.Description, r.Header.Get(constants.IdempotencyKeyHeader)); err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

func (wh *WalletHandler) AddPlatformCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreditsRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(ctx)
	capability, err := auth.RequireAdmin(id)
	if err != nil {
		response.WriteError(w, err)
		return
	}

	if _, err := wh.Service.AddPlatformCredits(ctx, capability, req.UserID, req.Amount, req.Description, r.Header.Get(constants.IdempotencyKeyHeader)); err != nil {
		middleware.GetLogger(ctx).Error().Err(err).Msg("Failed to add platform credits")
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

func (wh *WalletHandler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		response.WriteError(w, apperror.Unauthorized("authentication required"))
		return
	}

	wallet, err := wh.Service.GetWallet(ctx, id.UserID)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wallet)
}

func (wh *WalletHandler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		response.WriteError(w, apperror.Unauthorized("authentication required"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := wh.Service.ListTransactions(ctx, id.UserID, limit, offset)
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, TransactionsResponse{Transactions: txs})
}

func (wh *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, _ := auth.IdentityFromContext(ctx)
	capability, err := auth.RequireAdmin(id)
	if err != nil {
		response.WriteError(w, err)
		return
	}

	drift, err := wh.Service.Reconcile(ctx, capability, chi.URLParam(r, "userId"))
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, drift)
}
