package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceturn/internal/config"
	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/internal/worker"
	"github.com/chriscow/voiceturn/pkg/agent"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/rtc"
	"github.com/chriscow/voiceturn/pkg/version"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker management commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the turn-taking pipeline to a relay over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyWorkerFlags(cmd, cfg); err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		logger := setupLogger(cfg)
		logger.Info("Starting worker",
			slog.String("service", "voiceturn"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("url", cfg.Worker.URL),
			slog.Bool("dry_run", dryRun))

		if cfg.Worker.URL == "" {
			return fmt.Errorf("--url is required")
		}
		if dryRun {
			logger.Info("Dry run mode - exiting")
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		metrics, shutdown, err := setupMetrics(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer shutdown()

		watch, _ := cmd.Flags().GetBool("watch")
		path, _ := cmd.Flags().GetString("config")
		if !watch || path == "" {
			return runPipeline(ctx, cfg, logger, metrics)
		}

		// dev mode: restart the pipeline whenever the config file changes
		changes := make(chan *config.Config, 1)
		go config.Watch(ctx, path, logger, func(next *config.Config) {
			select {
			case <-changes:
			default:
			}
			changes <- next
		})
		for {
			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- runPipeline(runCtx, cfg, logger, metrics) }()

			select {
			case next := <-changes:
				logger.Info("Restarting worker with new configuration")
				stop()
				if err := <-done; err != nil {
					logger.Warn("Worker stopped with error", slog.String("error", err.Error()))
				}
				if err := applyWorkerFlags(cmd, next); err != nil {
					logger.Warn("Keeping previous configuration", slog.String("error", err.Error()))
					continue
				}
				cfg = next
			case err := <-done:
				stop()
				return err
			}
		}
	},
}

func applyWorkerFlags(cmd *cobra.Command, cfg *config.Config) error {
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Worker.URL = url
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		cfg.Worker.Token = token
	}
	return applyVADFlags(cmd, cfg)
}

// runPipeline serves one relay connection loop with its own VAD engine,
// player and conversation until ctx is done.
func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) error {
	engine, err := vad.Load(cfg.VADOptions(), vad.WithLogger(logger), vad.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer engine.Close()

	frames := make(chan rtc.AudioFrame, cfg.VAD.InputQueueSize)
	bridge := worker.NewBridge(frames, nil, nil)
	w := worker.New(worker.Config{
		URL:          cfg.Worker.URL,
		Token:        cfg.Worker.Token,
		ReconnectMin: cfg.Worker.ReconnectMin,
		ReconnectMax: cfg.Worker.ReconnectMax,
		PingInterval: cfg.Worker.PingInterval,
	}, bridge, logger)

	coord := newCoordinator(cfg, logger, metrics)
	player, err := newPlayer(cfg, coord, w.Sink(), logger, metrics)
	if err != nil {
		return err
	}
	defer player.Close()

	session, err := agent.New(agent.Config{
		Engine:      engine,
		Coordinator: coord,
		Player:      player,
		OnState: func(from, to agent.AgentState) {
			w.SendState(from.String(), to.String())
		},
		OnVAD:   w.SendVAD,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	bridge.Attach(session, player)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return session.Run(gctx, frames) })
	if err := g.Wait(); err != nil {
		logger.Error("Worker failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func init() {
	workerRunCmd.Flags().String("url", "", "Relay WebSocket URL (default: worker.url from config)")
	workerRunCmd.Flags().String("token", "", "Bearer token for the relay (default: worker.token from config)")
	workerRunCmd.Flags().String("backend", "", "VAD backend (silero, webrtc, energy, fake)")
	workerRunCmd.Flags().Bool("dry-run", false, "Validate configuration and exit")
	workerRunCmd.Flags().Bool("watch", false, "Restart the pipeline when the --config file changes")

	workerCmd.AddCommand(workerRunCmd)
}
