package api

import (
	"net/http"

	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	purchasesvc "github.com/fastprodman/starledger/internal/services/purchase"
)

// GetDualBalanceHandler handles GET /user/{userId}/dual-balance
func (h *HandlerProvider) GetDualBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := h.duals.GetDualBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toDualBalance(st))
}

type bankDepositRequest struct {
	Amount *money.Money `json:"amount"`
}

// BankDepositHandler handles POST /user/{userId}/dual-balance/deposit
func (h *HandlerProvider) BankDepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req bankDepositRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Amount == nil {
		writeError(w, r, invalid("amount", "required"))
		return
	}

	st, err := h.duals.DepositToBank(r.Context(), userID, *req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toDualBalance(st))
}

type transferRequest struct {
	Amount *money.Money `json:"amount"`
	From   string       `json:"from"`
	To     string       `json:"to"`
}

// TransferHandler handles POST /user/{userId}/dual-balance/transfer. The
// direction defaults to BANK -> MAIN.
func (h *HandlerProvider) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := transferRequest{From: string(dualbalance.Bank), To: string(dualbalance.Main)}

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Amount == nil {
		writeError(w, r, invalid("amount", "required"))
		return
	}

	from, err := dualbalance.ParseBalanceType(req.From)
	if err != nil {
		writeError(w, r, err)
		return
	}

	to, err := dualbalance.ParseBalanceType(req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.duals.Transfer(r.Context(), userID, *req.Amount, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toTransfer(res))
}

type purchaseRequest struct {
	PurchaseID string       `json:"purchaseId"`
	Amount     *money.Money `json:"amount"`
	Units      int          `json:"units"`
}

// CreatePurchaseHandler handles POST /user/{userId}/purchases. The purchase
// is settled with the provider before the response is written.
func (h *HandlerProvider) CreatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req purchaseRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Amount == nil {
		writeError(w, r, invalid("amount", "required"))
		return
	}

	var pid ids.PurchaseID
	if req.PurchaseID != "" {
		pid, err = ids.ParsePurchaseID(req.PurchaseID)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	st, err := h.purchases.Purchase(r.Context(), purchasesvc.CreateRequest{
		PurchaseID: pid,
		UserID:     userID,
		Amount:     *req.Amount,
		Units:      req.Units,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toPurchase(st))
}

// ListPurchasesHandler handles GET /user/{userId}/purchases
func (h *HandlerProvider) ListPurchasesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, offset, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.purchases.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]purchaseResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPurchase(p))
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"purchases": out})
}

// GetPurchaseHandler handles GET /purchases/{purchaseId}
func (h *HandlerProvider) GetPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := purchaseIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := h.purchases.Get(r.Context(), pid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toPurchase(st))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelPurchaseHandler handles POST /purchases/{purchaseId}/cancel
func (h *HandlerProvider) CancelPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := purchaseIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		err = decodeBody(w, r, &req)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	st, err := h.purchases.Cancel(r.Context(), pid, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toPurchase(st))
}
