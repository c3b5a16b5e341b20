// Package server provides the HTTP server and routing for the paper
// trading service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/mundocripto/papertrade/internal/config"
	"github.com/mundocripto/papertrade/internal/database"
	"github.com/mundocripto/papertrade/internal/modules/auth"
	authhandlers "github.com/mundocripto/papertrade/internal/modules/auth/handlers"
	"github.com/mundocripto/papertrade/internal/modules/market"
	markethandlers "github.com/mundocripto/papertrade/internal/modules/market/handlers"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	portfoliohandlers "github.com/mundocripto/papertrade/internal/modules/portfolio/handlers"
	"github.com/mundocripto/papertrade/internal/modules/trading"
	tradinghandlers "github.com/mundocripto/papertrade/internal/modules/trading/handlers"
	"github.com/mundocripto/papertrade/internal/reconciler"
	"github.com/mundocripto/papertrade/pkg/embedded"
)

// Config holds everything the server wires together.
type Config struct {
	Log      zerolog.Logger
	AuthDB   *database.DB
	LedgerDB *database.DB
	CacheDB  *database.DB
	Config   *config.Config

	AuthService     *auth.Service
	TradingService  *trading.Service
	Feed            *market.Feed
	Reconciler      *reconciler.Reconciler
	TransactionRepo *portfolio.TransactionRepository
	SnapshotRepo    *portfolio.SnapshotRepository
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	authDB         *database.DB
	ledgerDB       *database.DB
	cacheDB        *database.DB
	cfg            *config.Config
	systemHandlers *SystemHandlers

	authService     *auth.Service
	tradingService  *trading.Service
	feed            *market.Feed
	rec             *reconciler.Reconciler
	transactionRepo *portfolio.TransactionRepository
	snapshotRepo    *portfolio.SnapshotRepository
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		log:             cfg.Log.With().Str("component", "server").Logger(),
		authDB:          cfg.AuthDB,
		ledgerDB:        cfg.LedgerDB,
		cacheDB:         cfg.CacheDB,
		cfg:             cfg.Config,
		authService:     cfg.AuthService,
		tradingService:  cfg.TradingService,
		feed:            cfg.Feed,
		rec:             cfg.Reconciler,
		transactionRepo: cfg.TransactionRepo,
		snapshotRepo:    cfg.SnapshotRepo,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		cfg.AuthDB,
		cfg.LedgerDB,
		cfg.CacheDB,
		cfg.Reconciler,
		cfg.TradingService.Sessions(),
	)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check (outside /api for load balancers)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Clients poll health under /api as well
		r.Get("/health", s.handleHealth)

		// Auth module. Login hands the guest session to the new identity.
		authHandler := authhandlers.NewHandler(s.authService, s.tradingService.AdoptGuest, s.log)
		authHandler.RegisterRoutes(r)

		// Market module (quotes, history, stats, websocket stream)
		marketHandler := markethandlers.NewHandler(s.feed, s.log)
		marketHandler.RegisterRoutes(r)

		// Trading module (session operations, guest or authenticated)
		tradingHandler := tradinghandlers.NewHandler(s.tradingService, s.log)
		tradingHandler.RegisterRoutes(r, s.authService)

		// Portfolio persistence module (authenticated only)
		portfolioHandler := portfoliohandlers.NewHandler(s.transactionRepo, s.snapshotRepo, s.log)
		portfolioHandler.RegisterRoutes(r, s.authService)

		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
		})
	})

	// Embedded web client at the root
	static, err := embedded.Static()
	if err != nil {
		s.log.Warn().Err(err).Msg("Embedded assets unavailable, skipping web client")
		return
	}
	s.router.Handle("/*", http.FileServer(http.FS(static)))
}

// Start begins listening for requests.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
