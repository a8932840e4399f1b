package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chriscow/voiceturn/internal/capture"
	"github.com/chriscow/voiceturn/pkg/agent"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the conversation state machine on live microphone input",
	Long: `listen captures the default microphone (or --device), runs VAD over it and
prints conversation state changes and finished speech segments. Microphone
capture needs a build with -tags portaudio; --file replays a WAV file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyVADFlags(cmd, cfg); err != nil {
			return err
		}
		logger := setupLogger(cfg)
		device, _ := cmd.Flags().GetString("device")
		file, _ := cmd.Flags().GetString("file")
		dumpDir, _ := cmd.Flags().GetString("dump-dir")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		metrics, shutdown, err := setupMetrics(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer shutdown()

		engine, err := vad.Load(cfg.VADOptions(), vad.WithLogger(logger), vad.WithMetrics(metrics))
		if err != nil {
			return err
		}
		defer engine.Close()

		opts := capture.Options{SampleRate: cfg.VAD.SampleRate, Device: device, Realtime: true}
		var src capture.Source
		if file != "" {
			src, err = capture.OpenFile(ctx, file, opts, logger)
		} else {
			src, err = capture.OpenMicrophone(ctx, opts, logger)
		}
		if err != nil {
			return err
		}
		defer src.Close()

		if dumpDir != "" {
			if err := os.MkdirAll(dumpDir, 0o755); err != nil {
				return fmt.Errorf("create dump dir: %w", err)
			}
		}
		rate := engine.Options().SampleRate
		segments := 0

		session, err := agent.New(agent.Config{
			Engine:      engine,
			Coordinator: newCoordinator(cfg, logger, metrics),
			OnSegment: func(_ context.Context, seg *vad.SpeechSegment) error {
				segments++
				fmt.Printf("segment %d: %s..%s (%s, forced=%t)\n",
					segments, seg.StartTime, seg.EndTime, seg.Duration(), seg.Forced)
				if dumpDir == "" {
					return nil
				}
				return dumpSegment(dumpDir, segments, seg, rate)
			},
			OnState: func(from, to agent.AgentState) {
				fmt.Printf("state: %s -> %s\n", from, to)
			},
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return err
		}

		logger.Info("Listening", slog.String("backend", string(engine.Backend())))
		return session.Run(ctx, src.Frames())
	},
}

func init() {
	listenCmd.Flags().String("backend", "", "VAD backend (silero, webrtc, energy, fake)")
	listenCmd.Flags().String("device", "", "Input device name substring (default: system default)")
	listenCmd.Flags().String("file", "", "Replay a WAV file instead of the microphone")
	listenCmd.Flags().String("dump-dir", "", "Write each speech segment to this directory as WAV")
}
