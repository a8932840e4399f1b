package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/voiceturn/internal/capture"
	"github.com/chriscow/voiceturn/internal/config"
	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/audio/wav"
	"github.com/chriscow/voiceturn/pkg/plugin"
	"github.com/chriscow/voiceturn/pkg/plugin/silero"
)

var vadCmd = &cobra.Command{
	Use:   "vad",
	Short: "Voice activity detection commands",
}

var vadBackendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered VAD backends",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range plugin.List(vad.PluginKind) {
			status := "available"
			if !p.Available {
				status = "not compiled in"
			}
			fmt.Printf("%-8s %-16s %s\n", p.Name, status, p.Description)
		}
	},
}

var vadDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the Silero VAD model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg)

		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = cfg.VAD.ModelPath
		}
		if path == "" {
			path = silero.DefaultModelPath()
		}

		sum, _ := cmd.Flags().GetString("sha256")
		d := silero.NewDownloader(silero.ModelURL, path, sum)
		if err := d.Download(); err != nil {
			return fmt.Errorf("download silero model: %w", err)
		}
		logger.Info("Silero model ready", slog.String("path", d.Path()))
		return nil
	},
}

var vadDetectCmd = &cobra.Command{
	Use:   "detect <file.wav>",
	Short: "Run VAD over a WAV file and print speech events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyVADFlags(cmd, cfg); err != nil {
			return err
		}
		logger := setupLogger(cfg)
		verbose, _ := cmd.Flags().GetBool("verbose")
		dumpDir, _ := cmd.Flags().GetString("dump-dir")
		realtime, _ := cmd.Flags().GetBool("realtime")

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

		src, err := capture.OpenFile(ctx, args[0], capture.Options{Realtime: realtime}, logger)
		if err != nil {
			return err
		}
		defer src.Close()

		stream, err := engine.NewStream(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		if dumpDir != "" {
			if err := os.MkdirAll(dumpDir, 0o755); err != nil {
				return fmt.Errorf("create dump dir: %w", err)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer stream.EndInput()
			for frame := range src.Frames() {
				if err := stream.Push(gctx, frame); err != nil {
					return err
				}
			}
			return src.Err()
		})
		g.Go(func() error {
			return printEvents(stream.Events(), engine.Options().SampleRate, verbose, dumpDir)
		})
		return g.Wait()
	},
}

// printEvents writes one line per event and, with dumpDir set, one WAV file
// per segment.
func printEvents(events <-chan vad.Event, sampleRate int, verbose bool, dumpDir string) error {
	segments := 0
	for ev := range events {
		switch ev.Type {
		case vad.EventInferenceDone:
			if verbose {
				fmt.Printf("%s %-16s p=%.3f speaking=%t\n", stamp(ev), ev.Type, ev.Probability, ev.Speaking)
			}
		case vad.EventStartOfSpeech:
			fmt.Printf("%s %s\n", stamp(ev), ev.Type)
		case vad.EventEndOfSpeech:
			segments++
			seg := ev.Segment
			fmt.Printf("%s %s duration=%s forced=%t\n", stamp(ev), ev.Type, seg.Duration(), seg.Forced)
			if dumpDir != "" {
				if err := dumpSegment(dumpDir, segments, seg, sampleRate); err != nil {
					return err
				}
			}
		}
	}
	fmt.Printf("%d speech segment(s)\n", segments)
	return nil
}

func stamp(ev vad.Event) string {
	ms := ev.Timestamp.Milliseconds()
	return fmt.Sprintf("[%02d:%02d.%03d]", ms/60000, ms/1000%60, ms%1000)
}

func dumpSegment(dir string, n int, seg *vad.SpeechSegment, sampleRate int) error {
	var samples []int16
	for i := range seg.Frames {
		samples = append(samples, seg.Frames[i].Samples()...)
	}
	path := filepath.Join(dir, fmt.Sprintf("segment-%03d.wav", n))
	if err := os.WriteFile(path, wav.Encode(samples, sampleRate, 1), 0o644); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	return nil
}

// applyVADFlags is shared by the commands that open a VAD engine.
func applyVADFlags(cmd *cobra.Command, cfg *config.Config) error {
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.VAD.Backend = backend
	}
	return cfg.Validate()
}

func init() {
	vadDetectCmd.Flags().String("backend", "", "VAD backend (silero, webrtc, energy, fake)")
	vadDetectCmd.Flags().Bool("verbose", false, "Print every inference result")
	vadDetectCmd.Flags().String("dump-dir", "", "Write each speech segment to this directory as WAV")
	vadDetectCmd.Flags().Bool("realtime", false, "Replay the file at wall-clock speed")

	vadDownloadCmd.Flags().String("path", "", "Destination of the model file (default: config or cache dir)")
	vadDownloadCmd.Flags().String("sha256", os.Getenv("VOICETURN_SILERO_SHA256"), "Expected SHA-256 of the model")

	vadCmd.AddCommand(vadBackendsCmd)
	vadCmd.AddCommand(vadDetectCmd)
	vadCmd.AddCommand(vadDownloadCmd)
}
