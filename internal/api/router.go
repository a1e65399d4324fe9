package api

import (
	"log/slog"
	"net/http"

	"github.com/fastprodman/starledger/internal/infra/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router with every ledger endpoint registered.
func NewRouter(h *HandlerProvider, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/user/{userId}", func(r chi.Router) {
		r.Get("/balance", h.GetBalanceHandler)
		r.Get("/balances", h.ListBalancesHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/{transactionId}", h.GetTransactionHandler)
		r.Post("/deposit", h.DepositHandler)
		r.Post("/withdraw", h.WithdrawHandler)
		r.Post("/refund", h.RefundHandler)
		r.Post("/reserve", h.ReserveHandler)
		r.Post("/reservations/{orderId}/release", h.ReleaseHandler)
		r.Post("/reservations/{orderId}/capture", h.CaptureHandler)
		r.Post("/adjust", h.AdjustHandler)
		r.Post("/activate", h.SetActiveHandler(true))
		r.Post("/deactivate", h.SetActiveHandler(false))

		r.Get("/dual-balance", h.GetDualBalanceHandler)
		r.Post("/dual-balance/deposit", h.BankDepositHandler)
		r.Post("/dual-balance/transfer", h.TransferHandler)

		r.Get("/purchases", h.ListPurchasesHandler)
		r.Post("/purchases", h.CreatePurchaseHandler)
	})

	r.Get("/purchases/{purchaseId}", h.GetPurchaseHandler)
	r.Post("/purchases/{purchaseId}/cancel", h.CancelPurchaseHandler)

	return r
}

// requestLogger stores a logger tagged with the request id in the request
// context and logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger.With("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), l)))

			l.DebugContext(r.Context(), "request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
			)
		})
	}
}
