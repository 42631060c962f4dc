// Command sentinel is the Grand Exchange Sentinel process entry point,
// grounded on the teacher's cmd/cryptorun/main.go (cobra root command,
// zerolog console bootstrap) trimmed from an interactive-menu-first CLI
// down to a conventional serve daemon plus a couple of operational
// subcommands, since nothing in spec §6 calls for a TUI.
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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/alertrouter"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/cache"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/catalog"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/chategress"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/config"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/engine"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/feed"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/httpapi"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/metrics"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/scheduler"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/store"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/tenant"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/views"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/watchlist"
)

const version = "v1.0.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:     "sentinel",
		Short:   "Grand Exchange Sentinel — multi-tenant price-event detector and alert router",
		Version: version,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the process config YAML (defaults to built-in values)")

	root.AddCommand(serveCmd(&configPath, log))
	root.AddCommand(configCmd(&configPath, log))
	root.AddCommand(healthCmd(&configPath, log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("sentinel exited with error")
	}
}

// deps bundles every long-lived component the serve and health commands
// both need, built once from a loaded config.
type deps struct {
	cfg        *config.Config
	snapStore  store.SnapshotStore
	cat        *catalog.Catalog
	viewStore  *views.Store
	tenants    *tenant.Store
	watchlists *watchlist.Store
	feedClient *feed.Client
	egress     chategress.Egress
	router     *alertrouter.Router
	reg        *metrics.Registry
	sched      *scheduler.Scheduler
}

func build(cfg *config.Config, log zerolog.Logger) (*deps, error) {
	snapStore, err := store.NewFromEnv(store.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	feedClient := feed.NewClient(feed.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		RPSLatest: cfg.Upstream.RPSLatest,
		RPS5m:     cfg.Upstream.RPS5m,
		RPS1h:     cfg.Upstream.RPS1h,
	})

	cat := catalog.New(feed.MetaFetcher{Client: feedClient}, cfg.CacheRoot+"/item_cache.json")
	if err := cat.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("catalog cold-start load failed, starting empty")
	}

	tenants, err := tenant.NewStore(cfg.ConfigRoot, true)
	if err != nil {
		return nil, fmt.Errorf("open tenant store: %w", err)
	}

	watchlists, err := watchlist.NewStore(cfg.ConfigRoot + "/watchlists")
	if err != nil {
		return nil, fmt.Errorf("open watchlist store: %w", err)
	}

	viewStore := views.NewStore()

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	egress := chategress.NewDiscordEgress(botToken)

	adminWebhook := os.Getenv("ADMIN_WEBHOOK_URL")
	if adminWebhook != "" {
		if err := tenant.ValidateWebhook(adminWebhook); err != nil {
			return nil, fmt.Errorf("ADMIN_WEBHOOK_URL: %w", err)
		}
	}

	reg := metrics.NewRegistry()

	router := &alertrouter.Router{
		Tenants:      tenants,
		Watchlists:   watchlists,
		Egress:       egress,
		Dedup:        cache.NewAuto(),
		IngestPeriod: int64(cfg.Cadences.IngestPeriod.Seconds()),
		Metrics:      reg,
		Log:          log,
	}

	sched := scheduler.New(feedClient, snapStore, cat, viewStore, router, reg, log, scheduler.Config{
		IngestPeriod:  cfg.Cadences.IngestPeriod,
		CatalogPeriod: cfg.Cadences.CatalogPeriod,
		PrunePeriod:   cfg.Cadences.PrunePeriod,
		Retention:     time.Duration(cfg.Cadences.RetentionDays) * 24 * time.Hour,
		Thresholds: engine.Thresholds{
			MarginMinGP:  cfg.Thresholds.MarginMinGP,
			DumpDropPct:  cfg.Thresholds.DumpDropPct,
			SpikeRisePct: cfg.Thresholds.SpikeRisePct,
			MinVolume:    cfg.Thresholds.MinVolume,
		},
		TopN:     50,
		Shutdown: cfg.Timeouts.Shutdown,
	})
	sched.AdminWebhookURL = adminWebhook

	return &deps{
		cfg: cfg, snapStore: snapStore, cat: cat, viewStore: viewStore,
		tenants: tenants, watchlists: watchlists, feedClient: feedClient,
		egress: egress, router: router, reg: reg, sched: sched,
	}, nil
}

func serveCmd(configPath *string, log zerolog.Logger) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest scheduler and the read API together",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer d.snapStore.Close()

			handler := httpapi.NewHandler(d.viewStore, d.tenants, d.snapStore, d.watchlists, d.sched, cfg.AdminKey, false, 5, 10, log)
			handler.Retention = time.Duration(cfg.Cadences.RetentionDays) * 24 * time.Hour
			srvCfg := httpapi.DefaultConfig()
			if addr != "" {
				srvCfg.Addr = addr
			}
			srvCfg.CORSOrigins = cfg.CORSOrigins
			server := httpapi.NewServer(srvCfg, handler, log)
			server.MountMetrics(d.reg.Handler())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 2)
			go func() {
				log.Info().Str("addr", srvCfg.Addr).Msg("read API listening")
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- fmt.Errorf("http server: %w", err)
				}
			}()
			go func() {
				if err := d.sched.Start(ctx); err != nil {
					errs <- fmt.Errorf("scheduler: %w", err)
				}
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case err := <-errs:
				log.Error().Err(err).Msg("component failed, shutting down")
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http server shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the read API listen address")
	return cmd
}

func configCmd(configPath *string, log zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize a tenant's configuration document",
	}
	var tenantID string
	get := &cobra.Command{
		Use:   "get",
		Short: "Print a tenant's config, creating its defaults if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := tenant.NewStore(cfg.ConfigRoot, true)
			if err != nil {
				return err
			}
			c, err := store.Get(tenantID)
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", c)
			return nil
		},
	}
	get.Flags().StringVar(&tenantID, "tenant", "", "tenant id (17-19 digit snowflake)")
	cmd.AddCommand(get)
	return cmd
}

func healthCmd(configPath *string, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the snapshot store without starting the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, err := store.NewFromEnv(store.DefaultOptions())
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()
			counts, err := st.Counts(context.Background())
			if err != nil {
				return fmt.Errorf("counts: %w", err)
			}
			fmt.Printf("snapshots=%d items=%d oldest=%d newest=%d config_root=%s\n",
				counts.Snapshots, counts.Items, counts.OldestTS, counts.NewestTS, cfg.ConfigRoot)
			return nil
		},
	}
}
