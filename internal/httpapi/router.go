package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// MaxInFlight bounds concurrently served requests; excess requests get 503.
	MaxInFlight int
	// Metrics, when set, instruments every route.
	Metrics *Metrics
	// MetricsHandler, when set, is served on GET /metrics.
	MetricsHandler http.Handler
}

// NewRouter builds the HTTP API around h.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/healthz", h.Healthz)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Backpressure applies to ledger operations only, so probes and
	// scrapes keep working under load.
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return withConcurrencyLimit(next, cfg.MaxInFlight)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Get("/balance", h.GetBalance)
				r.Post("/deposits", h.Deposit)
				r.Post("/withdrawals", h.Withdraw)
				r.Post("/freeze", h.FreezeAccount)
				r.Post("/unfreeze", h.UnfreezeAccount)
				r.Post("/close", h.CloseAccount)
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.PostTransfer)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/reverse", h.ReverseTransaction)
		})
	})

	return r
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Retry-After", retryAfterSeconds)
			writeErr(w, http.StatusServiceUnavailable, "server busy", nil)
		}
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
