// Package server assembles the escrow service: ledger gateway, wallets,
// trust lines, storage, sessions and the HTTP surface over them.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/config"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/escrow"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/health"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/keyring"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/ratelimit"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/realtime"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/reconciliation"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/traces"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/trustline"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

// Version is reported by /health. cmd/server sets it from build flags.
var Version = "dev"

// Server owns every long-lived component of the service.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	ledger   *xrpl.Client
	keys     *keyring.Keyring
	trust    *trustline.Validator
	sessions *session.Manager
	escrows  *escrow.Service

	hub         *realtime.Hub
	reconciler  *reconciliation.Timer
	limiter     *ratelimit.Limiter
	health      *health.Registry
	db          *sql.DB // nil when running in memory
	stopTracing func(context.Context) error

	router     *gin.Engine
	httpSrv    *http.Server
	httpClient *http.Client

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the logger built from config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHTTPClient sets the client used for the ledger node and faucet.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.httpClient = hc }
}

// New builds the service. It loads or generates wallets and, when
// ProvisionOnStart is set, opens and funds trust lines before returning,
// so it can take minutes against a real network.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, health: health.NewRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	slog.SetDefault(s.logger)

	ctx := context.Background()
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tracing", s.initTracing},
		{"ledger client", s.initLedger},
		{"wallets", s.initWallets},
		{"trust lines", s.initTrustLines},
		{"storage", s.initStorage},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	s.logger.Info("escrow service configured",
		"currency", cfg.Currency,
		"owner", s.keys.Owner().Address,
		"issuer", s.keys.Issuer().Address,
		"client", s.keys.Client().Address,
	)
	return s, nil
}

func (s *Server) initTracing(ctx context.Context) error {
	stop, err := traces.Init(ctx, traces.Config{Endpoint: s.cfg.OTLPEndpoint, Version: Version}, s.logger)
	s.stopTracing = stop
	return err
}

func (s *Server) initLedger(context.Context) error {
	opts := []xrpl.Option{xrpl.WithLogger(s.logger)}
	if s.httpClient != nil {
		opts = append(opts, xrpl.WithHTTPClient(s.httpClient))
	}
	ledger, err := xrpl.New(xrpl.Config{RPCURL: s.cfg.RPCURL, ConfirmTimeout: s.cfg.ConfirmTimeout}, opts...)
	if err != nil {
		return err
	}
	s.ledger = ledger
	s.health.Register("ledger", health.Ledger(ledger))
	return nil
}

func (s *Server) initWallets(ctx context.Context) error {
	var faucet keyring.Faucet
	if s.cfg.FaucetURL != "" && !s.cfg.IsProduction() {
		faucet = xrpl.NewFaucet(s.cfg.FaucetURL, s.httpClient)
	}
	keys, err := keyring.Bootstrap(ctx, keyring.BootstrapConfig{
		Configured: map[keyring.Role]xrpl.Credential{
			keyring.RoleOwner:  {Address: s.cfg.OwnerAddress, Seed: s.cfg.OwnerSeed},
			keyring.RoleIssuer: {Address: s.cfg.IssuerAddress, Seed: s.cfg.IssuerSeed},
			keyring.RoleClient: {Address: s.cfg.ClientAddress, Seed: s.cfg.ClientSeed},
		},
		KeyFile: s.cfg.WalletKeyFile,
	}, faucet, s.ledger, s.logger)
	if err != nil {
		return err
	}
	s.keys = keys
	return nil
}

func (s *Server) initTrustLines(ctx context.Context) error {
	s.trust = trustline.New(s.ledger, s.keys.Owner(), s.keys.Issuer(), trustline.Config{
		Currency:      s.cfg.Currency,
		TrustLimit:    iou.MustParse(s.cfg.TrustLimit),
		RequireAuth:   s.cfg.RequireAuth,
		AutoFund:      s.cfg.AutoFund,
		OwnerMinimum:  iou.MustParse(s.cfg.StartupOwnerBalance),
		ClientMinimum: iou.MustParse(s.cfg.StartupClientBalance),
	},
		trustline.WithProvisioned(s.keys.Client()),
		trustline.WithLogger(s.logger),
	)
	if !s.cfg.ProvisionOnStart {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return s.trust.Provision(ctx)
}

// initStorage picks PostgreSQL when DATABASE_URL is set and memory
// otherwise, then builds everything that sits on the registry.
func (s *Server) initStorage(ctx context.Context) error {
	var (
		registry escrow.Registry = escrow.NewMemoryRegistry()
		store    session.Store   = session.NewMemoryStore()
	)
	if s.cfg.DatabaseURL != "" {
		db, err := openDB(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		s.db = db
		registry = escrow.NewPostgresRegistry(db)
		store = session.NewPostgresStore(db)
		s.health.Register("database", health.Ping("database", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	} else {
		s.logger.Warn("DATABASE_URL not set, escrow records are kept in memory and lost on restart")
	}

	s.sessions = session.NewManager(store, s.cfg.SessionTTL)
	s.hub = realtime.NewHub(s.logger)
	s.escrows = escrow.NewService(registry, s.ledger, s.trust, s.sessions, s.keys).
		WithNotifier(s.hub).
		WithLogger(s.logger).
		WithCancelAfter(s.cfg.EscrowCancelAfter)

	runner := reconciliation.NewRunner(s.escrows, registry, s.keys.Owner().Address, s.logger)
	s.reconciler = reconciliation.NewTimer(runner, s.cfg.ReconcileInterval, s.logger)
	return nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return db, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}

// Router exposes the handler tree for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}
