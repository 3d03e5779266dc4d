package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ovenmint/crypto"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/observability/logging"
	"ovenmint/observability/metrics"
	"ovenmint/services/minterd/config"
	"ovenmint/services/minterd/journal"
)

// Minter is the subset of minter.Module the HTTP surface drives.
type Minter interface {
	Borrow(ctx context.Context, call minter.OvenCall, amount *uint256.Int) (*minter.Result, error)
	Repay(ctx context.Context, call minter.OvenCall, amount *uint256.Int) (*minter.Result, error)
	Deposit(ctx context.Context, call minter.OvenCall) (*minter.Result, error)
	Withdraw(ctx context.Context, call minter.OvenCall, amount *uint256.Int) (*minter.Result, error)
	Liquidate(ctx context.Context, call minter.OvenCall, liquidator crypto.Address) (*minter.Result, error)
	UpdateParameters(ctx context.Context, caller crypto.Address, now uint64, update minter.ParamsUpdate) (*minter.Result, error)
	UpdateCollaborators(ctx context.Context, caller crypto.Address, collaborators minter.Collaborators) (*minter.Result, error)
	QueryInterestIndex(ctx context.Context, now uint64, value *uint256.Int) (*uint256.Int, *minter.Result, error)
	State() minter.State
}

// Ledger exposes the read side of the token ledger and oven registry.
type Ledger interface {
	TokenBalance(addr crypto.Address) (*uint256.Int, error)
	NativeBalance(addr crypto.Address) (*uint256.Int, error)
	TotalSupply() (*uint256.Int, error)
	Oven(addr crypto.Address) (*minter.OvenUpdate, bool, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Minter    Minter
	Ledger    Ledger
	Journal   *journal.Journal
	Pauses    *nativecommon.PauseSet
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
	Metrics   *metrics.MinterMetrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	minter  Minter
	ledger  Ledger
	journal *journal.Journal
	pauses  *nativecommon.PauseSet
	auth    *Authenticator
	limiter *RateLimiter
	metrics *metrics.MinterMetrics
	hub     *Hub
	locks   *keyLocks
	logger  *slog.Logger
	clock   func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, rate limiting
// and idempotency support.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Now
	if clock == nil {
		clock = time.Now
	}
	srv := &Server{
		minter:  cfg.Minter,
		ledger:  cfg.Ledger,
		journal: cfg.Journal,
		pauses:  cfg.Pauses,
		auth:    NewAuthenticator(cfg.Auth, logger),
		metrics: cfg.Metrics,
		hub:     NewHub(),
		locks:   newKeyLocks(),
		logger:  logger,
		clock:   clock,
	}
	var recorder ThrottleRecorder
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}
	srv.limiter = NewRateLimiter(cfg.RateLimit, recorder)
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the receipt broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/state", s.handleState)
			public.Get("/index", s.handleIndex)
			public.Get("/ovens/{address}", s.handleOven)
			public.Get("/ovens/{address}/receipts", s.handleOvenReceipts)
			public.Get("/balances/{address}", s.handleBalance)
			public.Get("/receipts/{id}", s.handleReceipt)
			public.Get("/stream", s.handleStream)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Use(s.withIdempotency)
			protected.Post("/ovens/borrow", s.handleBorrow)
			protected.Post("/ovens/repay", s.handleRepay)
			protected.Post("/ovens/deposit", s.handleDeposit)
			protected.Post("/ovens/withdraw", s.handleWithdraw)
			protected.Post("/ovens/liquidate", s.handleLiquidate)
			protected.Post("/governance/params", s.handleUpdateParams)
			protected.Post("/governance/collaborators", s.handleUpdateCollaborators)
			protected.Post("/governance/pause", s.handlePause)
		})
	})
	return otelhttp.NewHandler(r, "minterd")
}

// observe records latency and status per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		s.metrics.ObserveRequest(route, status, duration)
		s.logger.Debug("http request",
			logging.MaskField("method", r.Method),
			logging.MaskField("path", r.URL.Path),
			slog.Int("status", status),
			logging.MaskField("requestId", chimw.GetReqID(r.Context())),
			logging.MaskField("remote", r.RemoteAddr),
			slog.Duration("duration", duration))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) now() uint64 {
	return uint64(s.clock().Unix())
}
