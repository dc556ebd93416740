// Command migrate manages the PostgreSQL schema and creates the first
// administrator account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"crmdesk.io/internal/audit"
	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/config"
	"crmdesk.io/internal/migrate"
	"crmdesk.io/internal/obs"
	"crmdesk.io/internal/store/pg"
)

// adminPasswordEnv keeps the bootstrap password out of argv and shell history.
const adminPasswordEnv = config.EnvPrefix + "ADMIN_PASSWORD"

func main() {
	var (
		dsn        = flag.String("dsn", os.Getenv(config.EnvPrefix+"PG_DSN"), "PostgreSQL DSN")
		email      = flag.String("email", "", "bootstrap-admin: account email")
		name       = flag.String("name", "Administrator", "bootstrap-admin: display name")
		bcryptCost = flag.Int("bcrypt-cost", 12, "bootstrap-admin: bcrypt cost")
	)
	flag.Parse()
	obs.InitLogger(obs.LogConfig{Level: "info", Format: "console", Output: os.Stderr})
	log := obs.Logger()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or " + config.EnvPrefix + "PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal().Msg("usage: migrate [up|down|status|bootstrap-admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations, "migrations")

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("applied")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("migration", name).Msg("rolled back")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, store, auth.RegisterInput{
			Email:    *email,
			Password: os.Getenv(adminPasswordEnv),
			Name:     *name,
			Role:     auth.RoleCompanyLeader,
		}, *bcryptCost)
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
}

// bootstrapAdmin registers a COMPANY_LEADER as the system user. The audit
// entry goes through the same sinks the API uses.
func bootstrapAdmin(ctx context.Context, store *pg.Store, in auth.RegisterInput, cost int) error {
	if in.Password == "" {
		return errors.New(adminPasswordEnv + " is not set")
	}
	dispatcher := audit.NewDispatcher(
		audit.MultiSink{store.AuditSink(), audit.NewLogSink(nil)},
		audit.DispatcherConfig{BufferSize: 8},
	)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	flushed := make(chan struct{})
	go func() {
		_ = dispatcher.Serve(auditCtx)
		close(flushed)
	}()
	defer func() {
		stopAudit()
		<-flushed
	}()

	// Tokens are never minted here, so any non-empty key will do.
	codec, err := auth.NewTokenCodec("bootstrap-only-signing-key", "crmdesk", "crmdesk-web")
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, codec,
		auth.WithHasher(auth.NewHasher(cost)),
		auth.WithAuditor(dispatcher),
	)
	if err != nil {
		return err
	}
	user, err := svc.Register(ctx, in, "", auth.ClientMeta{UserAgent: "crmdesk-migrate"})
	if err != nil {
		return err
	}
	obs.Logger().Info().Str("user_id", user.ID).Str("email", user.Email).Msg("administrator created")
	return nil
}
