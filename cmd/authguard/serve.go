package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/alert"
	"github.com/HrishiK1107/AuthGuard/pkg/api"
	"github.com/HrishiK1107/AuthGuard/pkg/archive"
	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/config"
	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/observability"
	"github.com/HrishiK1107/AuthGuard/pkg/pipeline"
	"github.com/HrishiK1107/AuthGuard/pkg/policy"
	"github.com/HrishiK1107/AuthGuard/pkg/replay"
	"github.com/HrishiK1107/AuthGuard/pkg/rules"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// replayCallTimeout bounds each startup block re-assertion.
const replayCallTimeout = 2 * time.Second

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen address (overrides AUTHGUARD_ADDR)")
	configPath := fs.String("config", "", "YAML profile path (overrides AUTHGUARD_CONFIG)")
	dataDir := fs.String("data-dir", "", "data directory (overrides DATA_DIR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *dataDir != "" {
		// DATA_DIR feeds both the config defaults and the archive factory.
		_ = os.Setenv("DATA_DIR", *dataDir)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	fmt.Fprintf(stdout, "%sAuthGuard %s starting...%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "data dir: %v\n", err)
		return 1
	}

	// Event log.
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		fmt.Fprintf(stderr, "open event log: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	eventLog := store.NewSQLEventLog(db, cfg.DBDriver, nil)
	if err := eventLog.Init(ctx); err != nil {
		fmt.Fprintf(stderr, "init event log: %v\n", err)
		return 1
	}
	logger.Info("event log ready", "driver", cfg.DBDriver)

	// Control-plane stores.
	blocks, err := store.NewBlockStore(cfg.BlockStorePath())
	if err != nil {
		fmt.Fprintf(stderr, "block store: %v\n", err)
		return 1
	}
	settings, err := store.NewSettingsStore(cfg.SettingsPath())
	if err != nil {
		fmt.Fprintf(stderr, "settings store: %v\n", err)
		return 1
	}
	campaigns, err := store.NewCampaignStore(cfg.CampaignsPath())
	if err != nil {
		fmt.Fprintf(stderr, "campaign store: %v\n", err)
		return 1
	}

	// Detector rules, seeded from the profile.
	table, err := rules.NewTable()
	if err != nil {
		fmt.Fprintf(stderr, "rules: %v\n", err)
		return 1
	}
	if err := applyRuleSeeds(table, cfg.Profile.Rules); err != nil {
		fmt.Fprintf(stderr, "rule seeds: %v\n", err)
		return 1
	}

	profile := cfg.Profile
	guard, err := replay.New(cfg.ReplayBackend, cfg.RedisAddr, cfg.ReplayTTL(), clock.Wall{})
	if err != nil {
		fmt.Fprintf(stderr, "replay guard: %v\n", err)
		return 1
	}
	defer func() { _ = guard.Close() }()
	if pinger, ok := guard.(interface{ Ping(context.Context) error }); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(stderr, "replay guard: %v\n", err)
			return 1
		}
	}
	logger.Info("replay guard ready", "backend", cfg.ReplayBackend)

	// Enforcement bridge; re-assert surviving blocks before taking traffic.
	bridge := enforce.NewBridge(cfg.EnforcerURL, logger)
	if active := blocks.Active(); len(active) > 0 {
		entities := make([]string, 0, len(active))
		for _, rec := range active {
			entities = append(entities, rec.Entity)
		}
		accepted := bridge.ReplayBlocks(ctx, entities, settings.Get().BlockTTLSeconds, replayCallTimeout)
		logger.Info("replayed active blocks", "total", len(entities), "accepted", accepted)
	}

	// Telemetry.
	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "authguard",
		ServiceVersion: version,
		Environment:    envOr("AUTHGUARD_ENV", "production"),
		OTLPEndpoint:   profile.Telemetry.Endpoint,
		SampleRate:     profile.Telemetry.SampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        profile.Telemetry.Enabled,
		Insecure:       profile.Telemetry.Insecure,
	})
	if err != nil {
		fmt.Fprintf(stderr, "telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutCtx)
	}()

	// Detection state; the sweeper reaps idle windows and decayed risk.
	state := pipeline.NewState(cfg.WindowSize(), cfg.HalfLife(), profile.MaxRisk, clock.Wall{})
	state.StartSweeper(ctx, cfg.WindowSize(), logger)

	var signer *alert.Signer
	if cfg.WebhookSecret != "" {
		signer, err = alert.NewSigner(cfg.WebhookSecret)
		if err != nil {
			fmt.Fprintf(stderr, "webhook signer: %v\n", err)
			return 1
		}
	}
	alerts := alert.NewManager(alert.Options{
		WebhookURL:  cfg.WebhookURL,
		Signer:      signer,
		Suppression: cfg.Suppression(),
		Campaigns:   campaigns,
		Logger:      logger,
	})

	segments, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "archive store: %v\n", err)
		return 1
	}
	exporter := archive.NewExporter(eventLog, segments)

	processor := pipeline.NewProcessor(pipeline.Options{
		State:     state,
		Rules:     table,
		Policy:    policy.NewEngine(cfg.Thresholds()),
		Bridge:    bridge,
		Replay:    guard,
		Log:       eventLog,
		Blocks:    blocks,
		Settings:  settings,
		Alerts:    alerts,
		Telemetry: telemetry,
		Logger:    logger,
	})

	server := api.NewServer(api.Options{
		Processor:   processor,
		Rules:       table,
		Blocks:      blocks,
		Settings:    settings,
		Campaigns:   campaigns,
		Log:         eventLog,
		Bridge:      bridge,
		Exporter:    exporter,
		AdminSecret: cfg.AdminSecret,
		RateRPS:     float64(profile.RateLimit.RPS),
		RateBurst:   profile.RateLimit.Burst,
		Logger:      logger,
	})
	defer server.Close()

	logger.Info("engine ready",
		"addr", cfg.Addr,
		"window_seconds", profile.WindowSeconds,
		"half_life_seconds", profile.HalfLifeSeconds,
		"mode", settings.Get().Mode)

	if err := server.Run(ctx, cfg.Addr); err != nil {
		fmt.Fprintf(stderr, "server: %v\n", err)
		return 1
	}
	return 0
}

// applyRuleSeeds overlays per-rule profile settings onto the table.
func applyRuleSeeds(table *rules.Table, seeds map[string]config.RuleSeed) error {
	for id, seed := range seeds {
		if seed.Threshold != nil {
			if err := table.UpdateThreshold(id, *seed.Threshold); err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
		if seed.Guard != "" {
			if err := table.SetGuard(id, seed.Guard); err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
		if seed.Enabled != nil {
			var err error
			if *seed.Enabled {
				err = table.Enable(id)
			} else {
				err = table.Disable(id)
			}
			if err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
