package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/infra/logging"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	"github.com/fastprodman/starledger/internal/services/balance"
	purchasesvc "github.com/fastprodman/starledger/internal/services/purchase"
	"github.com/go-chi/chi/v5"
)

type BalanceService interface {
	Deposit(ctx context.Context, req balance.DepositRequest) (balance.Result, error)
	Withdraw(ctx context.Context, req balance.WithdrawRequest) (balance.Result, error)
	Reserve(ctx context.Context, req balance.ReserveRequest) (balance.Result, error)
	ReleaseReserved(ctx context.Context, req balance.ReleaseRequest) (balance.Result, error)
	ProcessReservedPayment(ctx context.Context, req balance.CaptureRequest) (balance.Result, error)
	Refund(ctx context.Context, req balance.RefundRequest) (balance.Result, error)
	AdjustBalance(ctx context.Context, req balance.AdjustRequest) (balance.Result, error)
	SetActive(ctx context.Context, acc balance.Account, active bool, adminID ids.UserID) (balance.View, error)
	GetBalance(ctx context.Context, acc balance.Account) (balance.View, error)
	ListBalances(ctx context.Context, userID ids.UserID) ([]balance.View, error)
	GetTransaction(ctx context.Context, id ids.TransactionID) (ledger.TransactionState, error)
	ListTransactions(ctx context.Context, acc balance.Account, limit, offset int) ([]ledger.TransactionState, error)
}

type DualBalanceService interface {
	DepositToBank(ctx context.Context, userID ids.UserID, amount money.Money) (dualbalance.State, error)
	Transfer(ctx context.Context, userID ids.UserID, amount money.Money, from, to dualbalance.BalanceType) (dualbalance.TransferResult, error)
	GetDualBalance(ctx context.Context, userID ids.UserID) (dualbalance.State, error)
}

type PurchaseService interface {
	Purchase(ctx context.Context, req purchasesvc.CreateRequest) (purchase.State, error)
	Get(ctx context.Context, id ids.PurchaseID) (purchase.State, error)
	Cancel(ctx context.Context, id ids.PurchaseID, reason string) (purchase.State, error)
	ListByUser(ctx context.Context, userID ids.UserID, limit, offset int) ([]purchase.State, error)
}

// OutboxStats reports the outbox backlog on /healthz.
type OutboxStats interface {
	Counts(ctx context.Context) (map[outbox.Status]int, error)
}

// HandlerProvider exposes the ledger services as HTTP handlers.
type HandlerProvider struct {
	balances        BalanceService
	duals           DualBalanceService
	purchases       PurchaseService
	outbox          OutboxStats
	defaultCurrency money.Currency
}

type Deps struct {
	Balances        BalanceService
	Duals           DualBalanceService
	Purchases       PurchaseService
	Outbox          OutboxStats // optional
	DefaultCurrency money.Currency
}

func NewHandler(d Deps) *HandlerProvider {
	if d.DefaultCurrency.IsZero() {
		d.DefaultCurrency = money.USD
	}

	return &HandlerProvider{
		balances:        d.Balances,
		duals:           d.Duals,
		purchases:       d.Purchases,
		outbox:          d.Outbox,
		defaultCurrency: d.DefaultCurrency,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

type errorBody struct {
	Code          apperr.Code         `json:"code"`
	Message       string              `json:"message"`
	CorrelationID string              `json:"correlationId"`
	Fields        []apperr.FieldError `json:"fields,omitempty"`
}

// writeError answers with the code registry's status. Errors outside the
// taxonomy are logged and answered as INTERNAL_ERROR without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)

	if e.Code == apperr.CodeInternal {
		apperr.Log(r.Context(), logging.FromContext(r.Context()), "request failed", e,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	writeJSON(w, r, e.Code.HTTPStatus(), map[string]errorBody{"error": {
		Code:          e.Code,
		Message:       e.Message,
		CorrelationID: e.CorrelationID,
		Fields:        e.Fields,
	}})
}

func invalid(field, msg string) error {
	return apperr.Validation(apperr.FieldError{Field: field, Message: msg})
}

// decodeBody reads a JSON body of at most 1MB, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("body", "empty body")
		}

		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}

		return invalid("body", "invalid JSON")
	}

	return nil
}

// userIDFromPath reads `{userId}` from routes like /user/{userId}/balance.
func userIDFromPath(r *http.Request) (ids.UserID, error) {
	return ids.ParseUserID(chi.URLParam(r, "userId"))
}

func purchaseIDFromPath(r *http.Request) (ids.PurchaseID, error) {
	return ids.ParsePurchaseID(chi.URLParam(r, "purchaseId"))
}

// currencyOf returns the `currency` query parameter or the default.
func (h *HandlerProvider) currencyOf(r *http.Request) (money.Currency, error) {
	raw := r.URL.Query().Get("currency")
	if raw == "" {
		return h.defaultCurrency, nil
	}

	return money.ParseCurrency(raw)
}

func (h *HandlerProvider) account(r *http.Request) (balance.Account, error) {
	userID, err := userIDFromPath(r)
	if err != nil {
		return balance.Account{}, err
	}

	cur, err := h.currencyOf(r)
	if err != nil {
		return balance.Account{}, err
	}

	return balance.Account{UserID: userID, Currency: cur}, nil
}

func optionalTransactionID(s string) (ids.TransactionID, error) {
	if s == "" {
		return "", nil
	}

	return ids.ParseTransactionID(s)
}

// page reads limit and offset; zero means the service default.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return 0, 0, invalid("limit", "must be a non-negative integer")
		}
	}

	if s := q.Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, invalid("offset", "must be a non-negative integer")
		}
	}

	return limit, offset, nil
}

func adminIDFromHeader(r *http.Request) (ids.UserID, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Admin-Id"))
	if raw == "" {
		return 0, invalid("X-Admin-Id", "required")
	}

	id, err := ids.ParseUserID(raw)
	if err != nil {
		return 0, invalid("X-Admin-Id", "must be a positive integer")
	}

	return id, nil
}

// Healthz answers 200 with the outbox backlog when it is known.
func (h *HandlerProvider) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}

	if h.outbox != nil {
		counts, err := h.outbox.Counts(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp["outbox"] = counts
	}

	writeJSON(w, r, http.StatusOK, resp)
}
