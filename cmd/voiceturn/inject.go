package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chriscow/voiceturn/internal/config"
	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/playback"
	"github.com/chriscow/voiceturn/pkg/voice"
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Audio injection commands",
}

var injectPlayCmd = &cobra.Command{
	Use:   "play <url>",
	Short: "Fetch, decode and render an audio URL to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if bed, _ := cmd.Flags().GetString("bed"); bed != "" {
			cfg.Player.BedPath = bed
		}
		if origin, _ := cmd.Flags().GetString("alternate-origin"); origin != "" {
			cfg.Player.AlternateOrigin = origin
		}
		logger := setupLogger(cfg)
		out, _ := cmd.Flags().GetString("out")
		title, _ := cmd.Flags().GetString("title")
		if title == "" {
			title = args[0]
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		metrics, shutdown, err := setupMetrics(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer shutdown()

		coord := newCoordinator(cfg, logger, metrics)
		player, err := newPlayer(cfg, coord, &playback.WAVSink{Path: out}, logger, metrics)
		if err != nil {
			return err
		}
		defer player.Close()

		session, err := player.PlayFromURL(args[0], title)
		if err != nil {
			return err
		}
		logger.Info("Injection started",
			slog.String("session", session.ID),
			slog.String("url", session.URL),
			slog.String("out", out))

		if err := session.Wait(ctx); err != nil {
			// interrupted; Stop waits for the pipeline to unwind
			if serr := player.Stop(); serr != nil {
				logger.Warn("Failed to stop injection", slog.String("error", serr.Error()))
			}
		}

		fmt.Printf("%s: %s, %d frame(s) written to %s\n", session.Title, session.Status(), session.Frames(), out)
		if session.Status() == playback.StatusFailed {
			return session.Err()
		}
		return nil
	},
}

func newCoordinator(cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) *voice.Coordinator {
	opts := cfg.CoordinatorOptions()
	opts.Logger = logger
	opts.Metrics = metrics
	return voice.NewCoordinator(opts)
}

// newPlayer builds the player from the player section, loading the
// background bed when one is configured.
func newPlayer(cfg *config.Config, coord *voice.Coordinator, sink playback.Sink, logger *slog.Logger, metrics *observe.Metrics) (*playback.Player, error) {
	pcfg := cfg.PlayerConfig()
	opts := []playback.Option{playback.WithLogger(logger), playback.WithMetrics(metrics)}
	if cfg.Player.BedPath != "" {
		bed, err := playback.LoadBed(cfg.Player.BedPath, cfg.Player.BedVolume, pcfg)
		if err != nil {
			return nil, fmt.Errorf("load background bed: %w", err)
		}
		opts = append(opts, playback.WithBed(bed))
		logger.Info("Background bed loaded", slog.String("path", cfg.Player.BedPath))
	}
	return playback.NewPlayer(pcfg, coord, sink, opts...)
}

func init() {
	injectPlayCmd.Flags().String("out", "injected.wav", "WAV file to render into")
	injectPlayCmd.Flags().String("title", "", "Title reported in logs and events (default: the URL)")
	injectPlayCmd.Flags().String("bed", "", "Background audio file mixed under the injection")
	injectPlayCmd.Flags().String("alternate-origin", "", "Origin retried once when the first fetch is rejected")

	injectCmd.AddCommand(injectPlayCmd)
}
