package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sniper/internal/api"
	"sniper/internal/booking"
	"sniper/internal/browser"
	"sniper/internal/captcha"
	"sniper/internal/config"
	"sniper/internal/health"
	"sniper/internal/logging"
	"sniper/internal/storage"
	"sniper/internal/telegram"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// flags override a subset of the environment configuration.
type flags struct {
	sessions int
	mode     string
	dryRun   bool
	headless bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:           "sniper",
		Short:         "Watches an appointment calendar and books the first free slot.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}
	root.Flags().IntVar(&f.sessions, "sessions", 0, "parallel browser sessions (1 scout + N-1 attackers when above 1)")
	root.Flags().StringVar(&f.mode, "mode", "", "captcha execution mode: auto, manual or hybrid")
	root.Flags().BoolVar(&f.dryRun, "dry-run", false, "fill the form but never submit the booking")
	root.Flags().BoolVar(&f.headless, "headless", true, "run Chrome without a window")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) error {
	if cmd.Flags().Changed("sessions") {
		if f.sessions < 1 {
			return fmt.Errorf("--sessions must be at least 1")
		}
		cfg.Sessions = f.sessions
	}
	if cmd.Flags().Changed("mode") {
		mode, ok := config.ParseMode(f.mode)
		if !ok {
			return fmt.Errorf("unknown --mode %q", f.mode)
		}
		cfg.ExecutionMode = mode
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	return nil
}

// run wires every component and blocks until the manager stops.
//
// Flow:
//  1. Load configuration and apply flags
//  2. Build logger, captcha stack, Telegram client, browser launcher
//  3. Start the health server and the Telegram command loop
//  4. Run the manager until success, Stop or a signal
func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, f, cfg); err != nil {
		return err
	}

	logger := logging.Initialize(cfg.Log)
	defer logging.Sync()
	logger.Info("🚀 Starting sniper",
		zap.Int("sessions", cfg.Sessions),
		zap.String("mode", string(cfg.ExecutionMode)),
		zap.String("provider", cfg.Captcha.Provider),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("headless", cfg.Browser.Headless),
	)

	api.SetHTTPClient(api.NewHTTPClient(cfg.HTTPTimeout))
	strategy, err := captcha.NewStrategy(cfg.Captcha, api.GetHTTPClient(), logger.Named("captcha"))
	if err != nil {
		return err
	}

	tg := telegram.NewClient(cfg, logger)
	var relay captcha.HumanRelay
	var notifier booking.Notifier
	if tg != nil {
		relay = tg
		notifier = tg
	}
	solver := captcha.NewController(cfg.Captcha, cfg.ExecutionMode, strategy, relay, logger.Named("captcha"))

	evidence, err := storage.New(cfg.EvidenceDir, logger.Named("storage"))
	if err != nil {
		return err
	}

	manager, err := booking.NewManager(cfg, booking.Deps{
		Launcher: browser.NewChromeLauncher(cfg.Browser, cfg.Schedule.Timezone, logger.Named("browser")),
		Solver:   solver,
		Notifier: notifier,
		Evidence: evidence,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	healthServer := health.NewServer(manager, cfg.HealthCheckPort, logger.Named("health"))
	healthServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go tg.HandleUpdates(pollCtx, manager)

	if err := manager.Run(ctx); err != nil {
		return err
	}
	stopPolling()

	snap := manager.Snapshot()
	if tg != nil {
		sendFinalStats(tg, snap, logger)
	}
	if !snap.Success {
		logger.Info("👋 Stopped without a booking", zap.Int("scans", snap.Scans))
	}
	return nil
}

func sendFinalStats(tg *telegram.Client, snap booking.Snapshot, logger *zap.Logger) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := tg.SendDocument(ctx, data, "stats.json", "📈 Final stats"); err != nil {
		logger.Warn("⚠️  Failed to send final stats", zap.Error(err))
	}
}
