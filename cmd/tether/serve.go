package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vango-dev/tether/internal/config"
	"github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/auth"
	"github.com/vango-dev/tether/pkg/middleware"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
	"github.com/vango-dev/tether/pkg/username"
)

// systemAccount owns usernames reserved from configuration.
var systemAccount = uuid.Nil

type serveFlags struct {
	address        string
	maxConnections int
	databaseURL    string
	metrics        bool
}

func serveCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the WebSocket session server.

Routes:
  /ws       WebSocket endpoint
  /healthz  health probe
  /metrics  Prometheus metrics (with --metrics or server.metrics)

Usernames are checked against PostgreSQL when a database URL is set and
against an in-memory store otherwise.

Examples:
  tether serve
  tether serve --addr :9000 --max-connections 256
  tether serve -c s3://configs/tether.toml --log-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), global)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flags.address, "addr", "", "Listen address (default from config)")
	cmd.Flags().IntVar(&flags.maxConnections, "max-connections", 0, "Maximum simultaneous sessions (default from config)")
	cmd.Flags().StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL DSN for the username store")
	cmd.Flags().BoolVar(&flags.metrics, "metrics", false, "Expose Prometheus metrics at /metrics")

	return cmd
}

// apply overrides config values with flags the user actually set.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Address = f.address
	}
	if cmd.Flags().Changed("max-connections") {
		cfg.Server.MaxConnections = f.maxConnections
	}
	if cmd.Flags().Changed("database-url") {
		cfg.Storage.DatabaseURL = f.databaseURL
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Server.Metrics = f.metrics
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := buildServer(cfg, store, logger)
	if err != nil {
		return err
	}
	if err := srv.Run(); err != nil {
		return errors.New("T201").Wrap(err)
	}
	return nil
}

// buildServer wires the username handler, middleware, and metrics into a
// server.
func buildServer(cfg *config.Config, store username.Store, logger *slog.Logger) (*server.Server, error) {
	sc, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}
	sc.Logger = logger

	mws := []middleware.Middleware{middleware.OpenTelemetry()}
	if cfg.Server.RequireAccount {
		mws = append(mws, middleware.RequireAccount)
	}
	if cfg.Server.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sc.Metrics = server.NewMetrics(reg, "tether")
		sc.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		mws = append(mws, middleware.Prometheus(middleware.WithRegistry(reg)))
	}

	srv := server.New(sc, middleware.Chain(username.NewHandler(store), mws...))
	if len(cfg.Server.AuthTokens) > 0 {
		tokens, err := auth.NewStaticTokens(cfg.Server.AuthTokens)
		if err != nil {
			return nil, errors.New("T102").Wrap(err)
		}
		srv.SetAuthFunc(auth.Bearer(tokens, cfg.Server.RequireAccount))
		logger.Info("bearer authentication enabled", "tokens", tokens.Len(), "required", cfg.Server.RequireAccount)
	}
	return srv, nil
}

// openStore selects PostgreSQL when a DSN is configured and memory
// otherwise, then claims the reserved names.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (username.Store, error) {
	var store username.Store
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory username store")
		store = username.NewMemoryStore()
	} else {
		gs, err := username.OpenGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, errors.New("T400").Wrap(err)
		}
		if cfg.Migrate {
			if err := gs.Migrate(ctx); err != nil {
				gs.Close()
				return nil, errors.New("T400").Wrap(err)
			}
		}
		logger.Info("using postgres username store")
		store = gs
	}

	for _, name := range cfg.ReservedUsernames {
		u := protocol.Username(name)
		if err := username.Validate(u); err != nil {
			logger.Warn("skipping invalid reserved username", "username", name, "error", err)
			continue
		}
		if err := store.Reserve(ctx, u, systemAccount); err != nil {
			store.Close()
			return nil, errors.New("T400").Wrap(err)
		}
	}
	return store, nil
}
