package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/domain/dualbalance"
	"github.com/fastprodman/starledger/internal/domain/ledger"
	"github.com/fastprodman/starledger/internal/domain/purchase"
	"github.com/fastprodman/starledger/internal/ids"
	"github.com/fastprodman/starledger/internal/money"
	"github.com/fastprodman/starledger/internal/repos/outbox"
	"github.com/fastprodman/starledger/internal/services/balance"
	purchasesvc "github.com/fastprodman/starledger/internal/services/purchase"
)

// fakeBalances records the last request and answers with a fixed view or err.
type fakeBalances struct {
	err      error
	last     any
	lastAcc  balance.Account
	adminID  ids.UserID
	replayed bool
}

func (f *fakeBalances) result(acc balance.Account) (balance.Result, error) {
	f.lastAcc = acc
	if f.err != nil {
		return balance.Result{}, f.err
	}

	return balance.Result{
		View: balance.View{
			Balance: ledger.BalanceState{
				UserID:         acc.UserID,
				Currency:       acc.Currency,
				CurrentBalance: money.MustParse("100.00"),
				Active:         true,
				Version:        2,
			},
			Reserved:  money.MustParse("10.00"),
			Available: money.MustParse("90.00"),
		},
		Transaction: ledger.TransactionState{
			TransactionID: "5b0e4a3c-8f7d-4e8a-9a41-6a1f0c2d3e4f",
			Type:          ledger.TxDeposit,
			Status:        ledger.StatusCompleted,
			Amount:        money.MustParse("10.00"),
		},
		Replayed: f.replayed,
	}, nil
}

func (f *fakeBalances) Deposit(_ context.Context, req balance.DepositRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) Withdraw(_ context.Context, req balance.WithdrawRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) Reserve(_ context.Context, req balance.ReserveRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) ReleaseReserved(_ context.Context, req balance.ReleaseRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) ProcessReservedPayment(_ context.Context, req balance.CaptureRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) Refund(_ context.Context, req balance.RefundRequest) (balance.Result, error) {
	f.last = req
	return f.result(req.Account)
}

func (f *fakeBalances) AdjustBalance(_ context.Context, req balance.AdjustRequest) (balance.Result, error) {
	f.last = req
	f.adminID = req.AdminID

	return f.result(req.Account)
}

func (f *fakeBalances) SetActive(_ context.Context, acc balance.Account, _ bool, adminID ids.UserID) (balance.View, error) {
	f.adminID = adminID
	res, err := f.result(acc)

	return res.View, err
}

func (f *fakeBalances) GetBalance(_ context.Context, acc balance.Account) (balance.View, error) {
	res, err := f.result(acc)
	return res.View, err
}

func (f *fakeBalances) ListTransactions(_ context.Context, acc balance.Account, limit, offset int) ([]ledger.TransactionState, error) {
	f.last = [2]int{limit, offset}
	res, err := f.result(acc)

	return []ledger.TransactionState{res.Transaction}, err
}

func (f *fakeBalances) ListBalances(_ context.Context, userID ids.UserID) ([]balance.View, error) {
	usd, err := f.result(balance.Account{UserID: userID, Currency: money.USD})
	if err != nil {
		return nil, err
	}

	eur, _ := f.result(balance.Account{UserID: userID, Currency: money.EUR})

	return []balance.View{usd.View, eur.View}, nil
}

func (f *fakeBalances) GetTransaction(_ context.Context, id ids.TransactionID) (ledger.TransactionState, error) {
	if f.err != nil {
		return ledger.TransactionState{}, f.err
	}

	return ledger.TransactionState{
		TransactionID: id,
		UserID:        7,
		Type:          ledger.TxWithdrawal,
		Status:        ledger.StatusCompleted,
		Amount:        money.MustParse("3.00"),
	}, nil
}

type fakeDuals struct {
	err  error
	from dualbalance.BalanceType
	to   dualbalance.BalanceType
}

func (f *fakeDuals) DepositToBank(_ context.Context, userID ids.UserID, amount money.Money) (dualbalance.State, error) {
	return dualbalance.State{UserID: userID, BankBalance: amount, Active: true, Version: 1}, f.err
}

func (f *fakeDuals) Transfer(_ context.Context, _ ids.UserID, amount money.Money, from, to dualbalance.BalanceType) (dualbalance.TransferResult, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return dualbalance.TransferResult{}, f.err
	}

	return dualbalance.TransferResult{TransferID: "t-1", Amount: amount, MainAfter: amount, At: time.Now()}, nil
}

func (f *fakeDuals) GetDualBalance(_ context.Context, userID ids.UserID) (dualbalance.State, error) {
	return dualbalance.State{UserID: userID}, f.err
}

type fakePurchases struct {
	err  error
	last purchasesvc.CreateRequest
}

func (f *fakePurchases) Purchase(_ context.Context, req purchasesvc.CreateRequest) (purchase.State, error) {
	f.last = req
	if f.err != nil {
		return purchase.State{}, f.err
	}

	units := req.Units

	return purchase.State{
		PurchaseID:          ids.NewPurchaseID(),
		UserID:              req.UserID,
		Status:              purchase.StatusCompleted,
		Amount:              req.Amount,
		RequestedUnits:      req.Units,
		ActualUnitsReceived: &units,
	}, nil
}

func (f *fakePurchases) Get(_ context.Context, id ids.PurchaseID) (purchase.State, error) {
	return purchase.State{PurchaseID: id, Status: purchase.StatusPending}, f.err
}

func (f *fakePurchases) Cancel(_ context.Context, id ids.PurchaseID, reason string) (purchase.State, error) {
	return purchase.State{PurchaseID: id, Status: purchase.StatusCancelled, FailureReason: reason}, f.err
}

func (f *fakePurchases) ListByUser(_ context.Context, userID ids.UserID, _, _ int) ([]purchase.State, error) {
	return []purchase.State{{UserID: userID}}, f.err
}

type fakeOutbox map[outbox.Status]int

func (f fakeOutbox) Counts(context.Context) (map[outbox.Status]int, error) { return f, nil }

type harness struct {
	balances  *fakeBalances
	duals     *fakeDuals
	purchases *fakePurchases
	handler   http.Handler
}

func newHarness() *harness {
	h := &harness{balances: &fakeBalances{}, duals: &fakeDuals{}, purchases: &fakePurchases{}}
	h.handler = NewRouter(NewHandler(Deps{
		Balances:  h.balances,
		Duals:     h.duals,
		Purchases: h.purchases,
		Outbox:    fakeOutbox{outbox.StatusPending: 2},
	}), slog.New(slog.DiscardHandler))

	return h
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}

	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	return rec
}

type errorEnvelope struct {
	Error struct {
		Code          string              `json:"code"`
		Message       string              `json:"message"`
		CorrelationID string              `json:"correlationId"`
		Fields        []apperr.FieldError `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()

	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}

	return env
}

func TestRouter_Healthz(t *testing.T) {
	t.Parallel()

	rec := newHarness().do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}

	var body struct {
		Status string         `json:"status"`
		Outbox map[string]int `json:"outbox"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Outbox["pending"] != 2 {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestRouter_GetBalance(t *testing.T) {
	t.Parallel()

	h := newHarness()

	rec := h.do(http.MethodGet, "/user/7/balance?currency=eur", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	if h.balances.lastAcc.UserID != 7 || h.balances.lastAcc.Currency.Code() != "EUR" {
		t.Fatalf("account: %+v", h.balances.lastAcc)
	}

	var body balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Balance.String() != "100.00" || body.Available.String() != "90.00" || body.Reserved.String() != "10.00" {
		t.Fatalf("body: %s", rec.Body.String())
	}

	h.do(http.MethodGet, "/user/7/balance", "")
	if h.balances.lastAcc.Currency.Code() != "USD" {
		t.Fatalf("default currency: %s", h.balances.lastAcc.Currency.Code())
	}
}

func TestRouter_Deposit(t *testing.T) {
	t.Parallel()

	h := newHarness()

	rec := h.do(http.MethodPost, "/user/1/deposit",
		`{"transactionId":"5b0e4a3c-8f7d-4e8a-9a41-6a1f0c2d3e4f","amount":"12.50","source":"card"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}

	req, ok := h.balances.last.(balance.DepositRequest)
	if !ok {
		t.Fatalf("service got %T", h.balances.last)
	}
	if req.Amount.String() != "12.50" || req.Source != "card" || req.TransactionID == "" {
		t.Fatalf("request: %+v", req)
	}

	var body mutationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Transaction == nil || body.Replayed {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestRouter_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		header   []string
		wantCode apperr.Code
	}{
		{name: "bad user id", method: http.MethodGet, path: "/user/abc/balance", wantCode: apperr.CodeInvalidIdentifier},
		{name: "zero user id", method: http.MethodGet, path: "/user/0/balance", wantCode: apperr.CodeInvalidIdentifier},
		{name: "unsupported currency", method: http.MethodGet, path: "/user/1/balance?currency=XXX", wantCode: apperr.CodeUnsupportedCurrency},
		{name: "empty body", method: http.MethodPost, path: "/user/1/deposit", wantCode: apperr.CodeValidationFailed},
		{name: "invalid json", method: http.MethodPost, path: "/user/1/deposit", body: `{`, wantCode: apperr.CodeValidationFailed},
		{name: "unknown field", method: http.MethodPost, path: "/user/1/deposit", body: `{"amount":"1.00","x":1}`, wantCode: apperr.CodeValidationFailed},
		{name: "missing amount", method: http.MethodPost, path: "/user/1/withdraw", body: `{}`, wantCode: apperr.CodeValidationFailed},
		{name: "negative amount", method: http.MethodPost, path: "/user/1/deposit", body: `{"amount":"-1.00"}`, wantCode: apperr.CodeInvalidAmount},
		{name: "bad transaction id", method: http.MethodPost, path: "/user/1/deposit", body: `{"amount":"1.00","transactionId":"nope"}`, wantCode: apperr.CodeInvalidIdentifier},
		{name: "reserve without order", method: http.MethodPost, path: "/user/1/reserve", body: `{"amount":"1.00"}`, wantCode: apperr.CodeValidationFailed},
		{name: "adjust without admin", method: http.MethodPost, path: "/user/1/adjust", body: `{"delta":"5","reason":"fix"}`, wantCode: apperr.CodeValidationFailed},
		{name: "adjust without reason", method: http.MethodPost, path: "/user/1/adjust", body: `{"delta":"5"}`, header: []string{"X-Admin-Id", "9"}, wantCode: apperr.CodeValidationFailed},
		{name: "bad balance type", method: http.MethodPost, path: "/user/1/dual-balance/transfer", body: `{"amount":"1.00","from":"SAVINGS"}`, wantCode: apperr.CodeValidationFailed},
		{name: "bad purchase id", method: http.MethodGet, path: "/purchases/123", wantCode: apperr.CodeInvalidIdentifier},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := newHarness().do(tt.method, tt.path, tt.body, tt.header...)

			env := decodeError(t, rec)
			if env.Error.Code != string(tt.wantCode) {
				t.Fatalf("code: got %s, want %s (body %s)", env.Error.Code, tt.wantCode, rec.Body.String())
			}
			if rec.Code != tt.wantCode.HTTPStatus() {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantCode.HTTPStatus())
			}
			if env.Error.CorrelationID == "" {
				t.Fatalf("missing correlation id")
			}
		})
	}
}

func TestRouter_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   apperr.Code
		wantStatus int
	}{
		{
			name:       "insufficient balance",
			err:        ledger.ErrInsufficientBalance(money.MustParse("1.00"), money.MustParse("5.00")),
			wantCode:   apperr.CodeInsufficientBalance,
			wantStatus: apperr.CodeInsufficientBalance.HTTPStatus(),
		},
		{
			name:       "not found",
			err:        apperr.New(apperr.CodeBalanceNotFound, "", nil),
			wantCode:   apperr.CodeBalanceNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "foreign error",
			err:        errors.New("connection reset by peer"),
			wantCode:   apperr.CodeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.balances.err = tt.err

			rec := h.do(http.MethodPost, "/user/1/withdraw", `{"amount":"5.00"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}

			env := decodeError(t, rec)
			if env.Error.Code != string(tt.wantCode) {
				t.Fatalf("code: got %s, want %s", env.Error.Code, tt.wantCode)
			}
			if strings.Contains(rec.Body.String(), "connection reset") {
				t.Fatalf("internal error text leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestRouter_ReservationsAndAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness()

	rec := h.do(http.MethodPost, "/user/1/reservations/order-9/release", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("release: %d %s", rec.Code, rec.Body.String())
	}
	if req, ok := h.balances.last.(balance.ReleaseRequest); !ok || req.OrderID != "order-9" {
		t.Fatalf("release request: %+v", h.balances.last)
	}

	rec = h.do(http.MethodPost, "/user/1/reservations/order-9/capture", `{"amount":"4.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body.String())
	}
	if req, ok := h.balances.last.(balance.CaptureRequest); !ok || req.OrderID != "order-9" || req.Amount.String() != "4.00" {
		t.Fatalf("capture request: %+v", h.balances.last)
	}

	rec = h.do(http.MethodPost, "/user/1/adjust", `{"delta":"-2.5","reason":"chargeback"}`, "X-Admin-Id", "42")
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body.String())
	}
	req, ok := h.balances.last.(balance.AdjustRequest)
	if !ok || req.Delta.String() != "-2.5" || h.balances.adminID != 42 {
		t.Fatalf("adjust request: %+v", h.balances.last)
	}

	rec = h.do(http.MethodPost, "/user/1/deactivate", "", "X-Admin-Id", "42")
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/user/1/transactions?limit=5&offset=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: %d %s", rec.Code, rec.Body.String())
	}
	if got := h.balances.last.([2]int); got != [2]int{5, 10} {
		t.Fatalf("page: %v", got)
	}
}

func TestRouter_DualBalanceAndPurchases(t *testing.T) {
	t.Parallel()

	h := newHarness()

	rec := h.do(http.MethodPost, "/user/3/dual-balance/transfer", `{"amount":"10.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: %d %s", rec.Code, rec.Body.String())
	}
	if h.duals.from != dualbalance.Bank || h.duals.to != dualbalance.Main {
		t.Fatalf("default direction: %s -> %s", h.duals.from, h.duals.to)
	}

	rec = h.do(http.MethodPost, "/user/3/purchases", `{"amount":"9.99","units":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("purchase: %d %s", rec.Code, rec.Body.String())
	}
	if h.purchases.last.UserID != 3 || h.purchases.last.Units != 10 || h.purchases.last.Amount.String() != "9.99" {
		t.Fatalf("purchase request: %+v", h.purchases.last)
	}

	var p purchaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != purchase.StatusCompleted || p.ActualUnitsReceived == nil || *p.ActualUnitsReceived != 10 {
		t.Fatalf("purchase body: %s", rec.Body.String())
	}

	h.purchases.err = apperr.New(apperr.CodeStarPurchaseFailed, "", nil)

	rec = h.do(http.MethodPost, "/user/3/purchases", `{"amount":"9.99","units":10}`)
	if env := decodeError(t, rec); env.Error.Code != string(apperr.CodeStarPurchaseFailed) {
		t.Fatalf("failed purchase: %s", rec.Body.String())
	}

	h.purchases.err = nil

	rec = h.do(http.MethodPost, "/purchases/"+ids.NewPurchaseID().String()+"/cancel", `{"reason":"changed mind"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "changed mind") {
		t.Fatalf("cancel body: %s", rec.Body.String())
	}
}

func TestRouter_ListBalancesAndTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness()

	rec := h.do(http.MethodGet, "/user/7/balances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}

	var list struct {
		Balances []balanceResponse `json:"balances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Balances) != 2 || list.Balances[1].Currency.Code() != "EUR" {
		t.Fatalf("balances: %s", rec.Body.String())
	}

	const txID = "5b0e4a3c-8f7d-4e8a-9a41-6a1f0c2d3e4f"

	rec = h.do(http.MethodGet, "/user/7/transactions/"+txID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), txID) {
		t.Fatalf("body: %s", rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/user/8/transactions/"+txID, "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error.Code != string(apperr.CodeTransactionNotFound) {
		t.Fatalf("foreign transaction: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/user/7/transactions/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d %s", rec.Code, rec.Body.String())
	}
}
