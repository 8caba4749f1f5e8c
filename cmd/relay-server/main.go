package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/delight/relay/internal/api/handlers"
	"github.com/bhandras/delight/relay/internal/api/middleware"
	"github.com/bhandras/delight/relay/internal/config"
	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/bhandras/delight/relay/internal/database"
	"github.com/bhandras/delight/relay/internal/metrics"
	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/internal/websocket"
	wshandlers "github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Errorf("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", "", "listen address (overrides RELAY_ADDR)")
		debug      = flag.Bool("debug", false, "enable debug logging and gin debug mode")
		journal    = flag.String("journal", "", "SQLite session journal path (overrides RELAY_JOURNAL_PATH)")
		tlsCert    = flag.String("tls-cert", "", "TLS certificate file")
		tlsKey     = flag.String("tls-key", "", "TLS private key file")
		issueToken = flag.String("issue-token", "", "print a principal token for the given principal id and exit")
		tokenTTL   = flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	)
	flag.Parse()

	// Only explicitly set flags override the environment.
	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides.Addr = addr
		case "debug":
			overrides.Debug = debug
		case "journal":
			overrides.JournalPath = journal
		}
	})
	if *tlsCert != "" || *tlsKey != "" {
		overrides.TLS = &config.TLSConfig{CertFile: *tlsCert, KeyFile: *tlsKey}
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}

	logger.SetJSON(cfg.LogJSON)
	logger.SetLevel(cfg.Level())
	defer logger.Sync()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	var jwtManager *crypto.JWTManager
	if cfg.JWTSecret != "" {
		logger.Infof("Initializing JWT manager...")
		jwtManager, err = crypto.NewJWTManager(cfg.JWTSecret)
		if err != nil {
			return fmt.Errorf("failed to create JWT manager: %w", err)
		}
	}

	if *issueToken != "" {
		if jwtManager == nil {
			return errors.New("-issue-token needs RELAY_JWT_SECRET")
		}
		token, err := jwtManager.CreateToken(*issueToken, *tokenTTL, nil)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	var observers []relay.Observer

	var rl *relay.Relay
	m := metrics.New(func() int { return rl.PendingCount() })
	observers = append(observers, m)

	var history *database.Journal
	if cfg.JournalPath != "" {
		logger.Infof("Opening session journal: %s", cfg.JournalPath)
		db, err := database.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()

		history = database.NewJournal(db)
		defer history.Close()
		observers = append(observers, history)
	}

	rl = relay.New(relay.Config{
		RequestTimeout:       cfg.RequestTimeout,
		IdleTimeout:          cfg.IdleTimeout,
		SweepInterval:        cfg.SweepInterval,
		MaxPendingPerSession: cfg.MaxPendingPerSession,
	}, nil, observers...)

	// Typed nils must not reach the interfaces below.
	var (
		agentTokens  wshandlers.TokenVerifier
		callerTokens middleware.TokenVerifier
	)
	if jwtManager != nil {
		agentTokens = jwtManager
		callerTokens = jwtManager
	}

	logger.Infof("Initializing Socket.IO server...")
	socketIOServer := websocket.NewSocketIOServer(rl, agentTokens)
	defer socketIOServer.Close()

	simpleServer := websocket.NewSimpleServer(rl, agentTokens, cfg.AllowedOrigins)
	defer simpleServer.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware())

	// Root endpoint - plain text liveness check
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Localhost relay is running")
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	relayHandler := handlers.NewRelayHandler(rl)
	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		IdleEviction:      middleware.DefaultRateLimitConfig().IdleEviction,
	})

	api := router.Group("/v1/relay")
	if cfg.RequireCallerToken {
		api.Use(middleware.AuthMiddleware(callerTokens))
	}
	{
		api.POST("/execute", limiter, relayHandler.Execute)
		api.GET("/sessions", relayHandler.ListSessions)
		if history != nil {
			api.GET("/history", handlers.NewHistoryHandler(history).ListHistory)
		}
	}

	// Agent transports. Socket.IO clients address "<path>/", so the bare and
	// trailing-slash paths are mounted instead of a catch-all that would
	// shadow the API routes above.
	router.GET(websocket.SimplePath, simpleServer.HandleWebSocket)
	router.Any(websocket.SocketIOPath, socketIOServer.HandleSocketIO())
	router.Any(websocket.SocketIOPath+"/", socketIOServer.HandleSocketIO())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rl.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS != nil {
			logger.Infof("Localhost relay starting on https://%s", cfg.Addr)
			errCh <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		logger.Infof("Localhost relay starting on http://%s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	logger.Infof("Request timeout %s, idle timeout %s, sweep every %s",
		cfg.RequestTimeout, cfg.IdleTimeout, cfg.SweepInterval)
	if jwtManager != nil {
		logger.Infof("Principal tokens enabled (callers required: %t)", cfg.RequireCallerToken)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down...")
	rl.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown: %v", err)
	}
	return nil
}
