package api

import (
	"net/http"
	"strings"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/services/balance"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type operationRequest struct {
	TransactionID string       `json:"transactionId"`
	Amount        *money.Money `json:"amount"`
	OrderID       string       `json:"orderId"`
	Source        string       `json:"source"`
	Description   string       `json:"description"`
}

func (req operationRequest) validate(needOrder bool) error {
	if req.Amount == nil {
		return invalid("amount", "required")
	}

	if needOrder && strings.TrimSpace(req.OrderID) == "" {
		return invalid("orderId", "required")
	}

	return nil
}

// GetBalanceHandler handles GET /user/{userId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.balances.GetBalance(r.Context(), acc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toBalance(v))
}

// ListBalancesHandler handles GET /user/{userId}/balances
func (h *HandlerProvider) ListBalancesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.balances.ListBalances(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]balanceResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toBalance(v))
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"balances": out})
}

// GetTransactionHandler handles GET /user/{userId}/transactions/{transactionId}
func (h *HandlerProvider) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := ids.ParseTransactionID(chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.balances.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// other users' entries are reported as missing
	if t.UserID != userID {
		writeError(w, r, apperr.New(apperr.CodeTransactionNotFound, "", map[string]any{"transaction_id": id.String()}))
		return
	}

	writeJSON(w, r, http.StatusOK, toTransaction(t))
}

// ListTransactionsHandler handles GET /user/{userId}/transactions
func (h *HandlerProvider) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, offset, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.balances.ListTransactions(r.Context(), acc, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTransaction(t))
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"transactions": out})
}

// mutate decodes the body and runs op against the addressed balance.
func (h *HandlerProvider) mutate(w http.ResponseWriter, r *http.Request, needOrder bool, op func(acc balance.Account, req operationRequest) (balance.Result, error)) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req operationRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = req.validate(needOrder)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := op(acc, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toMutation(res))
}

// DepositHandler handles POST /user/{userId}/deposit
func (h *HandlerProvider) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, false, func(acc balance.Account, req operationRequest) (balance.Result, error) {
		txID, err := optionalTransactionID(req.TransactionID)
		if err != nil {
			return balance.Result{}, err
		}

		return h.balances.Deposit(r.Context(), balance.DepositRequest{
			Account:       acc,
			TransactionID: txID,
			Amount:        *req.Amount,
			Source:        req.Source,
			Description:   req.Description,
		})
	})
}

// WithdrawHandler handles POST /user/{userId}/withdraw
func (h *HandlerProvider) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, false, func(acc balance.Account, req operationRequest) (balance.Result, error) {
		txID, err := optionalTransactionID(req.TransactionID)
		if err != nil {
			return balance.Result{}, err
		}

		return h.balances.Withdraw(r.Context(), balance.WithdrawRequest{
			Account:       acc,
			TransactionID: txID,
			Amount:        *req.Amount,
			Description:   req.Description,
		})
	})
}

// RefundHandler handles POST /user/{userId}/refund
func (h *HandlerProvider) RefundHandler(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, false, func(acc balance.Account, req operationRequest) (balance.Result, error) {
		txID, err := optionalTransactionID(req.TransactionID)
		if err != nil {
			return balance.Result{}, err
		}

		return h.balances.Refund(r.Context(), balance.RefundRequest{
			Account:       acc,
			TransactionID: txID,
			Amount:        *req.Amount,
			OrderID:       req.OrderID,
			Description:   req.Description,
		})
	})
}

// ReserveHandler handles POST /user/{userId}/reserve
func (h *HandlerProvider) ReserveHandler(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, true, func(acc balance.Account, req operationRequest) (balance.Result, error) {
		txID, err := optionalTransactionID(req.TransactionID)
		if err != nil {
			return balance.Result{}, err
		}

		return h.balances.Reserve(r.Context(), balance.ReserveRequest{
			Account:       acc,
			TransactionID: txID,
			Amount:        *req.Amount,
			OrderID:       req.OrderID,
		})
	})
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

// ReleaseHandler handles POST /user/{userId}/reservations/{orderId}/release
func (h *HandlerProvider) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req releaseRequest
	if r.ContentLength != 0 {
		err = decodeBody(w, r, &req)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	res, err := h.balances.ReleaseReserved(r.Context(), balance.ReleaseRequest{
		Account: acc,
		OrderID: chi.URLParam(r, "orderId"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toMutation(res))
}

type captureRequest struct {
	Amount *money.Money `json:"amount"`
}

// CaptureHandler handles POST /user/{userId}/reservations/{orderId}/capture
func (h *HandlerProvider) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req captureRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Amount == nil {
		writeError(w, r, invalid("amount", "required"))
		return
	}

	res, err := h.balances.ProcessReservedPayment(r.Context(), balance.CaptureRequest{
		Account: acc,
		OrderID: chi.URLParam(r, "orderId"),
		Amount:  *req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toMutation(res))
}

type adjustRequest struct {
	TransactionID string           `json:"transactionId"`
	Delta         *decimal.Decimal `json:"delta"`
	Reason        string           `json:"reason"`
}

// AdjustHandler handles POST /user/{userId}/adjust. The acting admin comes
// from the X-Admin-Id header.
func (h *HandlerProvider) AdjustHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.account(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	adminID, err := adminIDFromHeader(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req adjustRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case req.Delta == nil:
		writeError(w, r, invalid("delta", "required"))
		return
	case strings.TrimSpace(req.Reason) == "":
		writeError(w, r, invalid("reason", "required"))
		return
	}

	txID, err := optionalTransactionID(req.TransactionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.balances.AdjustBalance(r.Context(), balance.AdjustRequest{
		Account:       acc,
		TransactionID: txID,
		Delta:         *req.Delta,
		Reason:        req.Reason,
		AdminID:       adminID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toMutation(res))
}

// SetActiveHandler handles POST /user/{userId}/activate and /deactivate.
func (h *HandlerProvider) SetActiveHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := h.account(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		adminID, err := adminIDFromHeader(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		v, err := h.balances.SetActive(r.Context(), acc, active, adminID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toBalance(v))
	}
}
