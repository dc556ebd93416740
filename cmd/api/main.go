package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"crmdesk.io/internal/audit"
	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/config"
	"crmdesk.io/internal/httpapi"
	"crmdesk.io/internal/obs"
	"crmdesk.io/internal/store/pg"
	"crmdesk.io/internal/store/redisstore"
	"crmdesk.io/internal/supervise"
	"crmdesk.io/internal/todo"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "crmdesk-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obs.InitLogger(obs.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users   auth.UserStore
		session auth.SessionStore
		todos   todo.Finder
		sinks   audit.MultiSink
		probe   httpapi.ReadyProbe
		db      *pg.Store
	)

	if cfg.Database.DSN != "" {
		db, err = pg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		users, session, todos = db, db, db.Todos()
		probe.DB = db
		sinks = append(sinks, audit.NewBreakerSink(db.AuditSink(), audit.BreakerConfig{
			ConsecutiveFailures: cfg.Audit.BreakerFailures,
			OpenTimeout:         cfg.Audit.BreakerTimeout,
		}))
	} else {
		log.Warn().Msg("database.dsn not set, using in-memory store")
		mem := auth.NewInMemory()
		users, session, todos = mem, mem, todo.NewInMemory()
	}
	sinks = append(sinks, audit.NewLogSink(nil))

	var counter httpapi.WindowCounter
	if cfg.Redis.Addr != "" {
		client, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rs := redisstore.New(client, cfg.Redis.KeyPrefix, cfg.Redis.AttemptTTL)
		session = rs
		probe.Redis = rs
		if cfg.RateLimit.Backend == "redis" {
			counter = rs
		}
	}

	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	dispatcher := audit.NewDispatcher(sinks, audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	})
	svc, err := auth.NewService(auth.CompositeStore{UserStore: users, SessionStore: session}, codec,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithLockout(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutWindow),
		auth.WithHasher(auth.NewHasher(cfg.Auth.BcryptCost)),
		auth.WithAuditor(dispatcher),
	)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, todos, probe, httpapi.Options{
		Version:        version,
		Production:     cfg.Server.Production(),
		TrustProxy:     cfg.Server.TrustProxy,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateMax:        cfg.RateLimit.MaxRequests,
		RateWindow:     cfg.RateLimit.Window,
		RateCounter:    counter,
		LoginPerSecond: cfg.RateLimit.LoginPerSecond,
		LoginBurst:     cfg.RateLimit.LoginBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	tree := supervise.NewTree(obs.ServiceName, log, supervise.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddWorker(dispatcher)
	if db != nil {
		tree.AddWorker(supervise.NewPeriodic("refresh-token-sweep", time.Hour, log, func(ctx context.Context) error {
			n, err := db.DeleteExpiredRefreshTokens(ctx, time.Now())
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("expired refresh tokens removed")
			}
			return err
		}))
	}
	tree.AddServer(supervise.NewHTTPService(srv, cfg.Server.ShutdownTimeout))
	if cfg.Server.GRPCAddr != "" {
		health := httpapi.NewHealthServer(probe, 10*time.Second)
		tree.AddWorker(health)
		tree.AddServer(supervise.NewGRPCService(cfg.Server.GRPCAddr, func(s *grpc.Server) {
			health.Register(s)
		}, cfg.Server.ShutdownTimeout))
	}

	log.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Str("grpc_addr", cfg.Server.GRPCAddr).
		Str("environment", cfg.Server.Environment).
		Msg("starting " + obs.ServiceName)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}
