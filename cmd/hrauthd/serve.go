package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/hrauth"
	"github.com/MrEthical07/hrauth/internal/appconfig"
	"github.com/MrEthical07/hrauth/internal/provider/kratos"
	"github.com/MrEthical07/hrauth/internal/store/postgres"
	"github.com/MrEthical07/hrauth/internal/transport/httpapi"
	"github.com/MrEthical07/hrauth/mail"
	"github.com/MrEthical07/hrauth/metrics/export/prometheus"
	"github.com/MrEthical07/hrauth/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	_ hrauth.Directory   = (*postgres.Store)(nil)
	_ session.Repository = (*postgres.Store)(nil)
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *appconfig.Config, log zerolog.Logger, migrate bool) error {
	pool, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.PoolConfig{
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := postgres.Migrate(ctx, pool, "up"); err != nil {
			return err
		}
	}
	store := postgres.New(pool)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Sessions fall back to Postgres while Redis is down.
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}

	provider, err := kratos.New(kratos.Config{
		AdminURL:     cfg.Kratos.AdminURL,
		TokenURL:     cfg.Kratos.TokenURL,
		ClientID:     cfg.Kratos.ClientID,
		ClientSecret: cfg.Kratos.ClientSecret,
		SchemaID:     cfg.Kratos.SchemaID,
		Timeout:      cfg.Kratos.Timeout,
	}, log.With().Str("component", "kratos").Logger())
	if err != nil {
		return err
	}

	mailer, err := newMailer(cfg.Mail, log)
	if err != nil {
		return err
	}

	engine, err := hrauth.New().
		WithConfig(cfg.EngineConfig()).
		WithRedis(rdb).
		WithDirectory(store).
		WithExternalProvider(provider).
		WithMailer(mailer).
		WithAuditSink(hrauth.MultiAuditSink(
			hrauth.NewPostgresAuditSink(store, 5*time.Second, log),
			hrauth.NewLogAuditSink(log.With().Str("component", "audit").Logger()),
		)).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	routerCfg := httpapi.RouterConfig{Service: engine, Logger: log}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = prometheus.Handler(engine)
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMailer(cfg appconfig.MailConfig, log zerolog.Logger) (mail.Sender, error) {
	if cfg.Driver == "smtp" {
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		})
	}
	return mail.NewLogSender(log.With().Str("component", "mail").Logger()), nil
}
