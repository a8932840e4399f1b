package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chriscow/voiceturn/internal/config"
	"github.com/chriscow/voiceturn/internal/observe"
	"github.com/chriscow/voiceturn/pkg/plugin"
	_ "github.com/chriscow/voiceturn/pkg/plugin/energy" // Import to register energy VAD
	_ "github.com/chriscow/voiceturn/pkg/plugin/fake"   // Import to register fake VAD
	_ "github.com/chriscow/voiceturn/pkg/plugin/silero" // Import to register silero VAD
	_ "github.com/chriscow/voiceturn/pkg/plugin/webrtc" // Import to register webrtc VAD
	"github.com/chriscow/voiceturn/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "voiceturn",
	Short: "voiceturn - voice activity detection and audio injection for voice agents",
	Long: `voiceturn runs the audio turn-taking pipeline of a voice agent: streaming
voice activity detection with pluggable backends, a cancellation-safe audio
injection player, and the coordinator that keeps the two from fighting.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("plugin-dir")
		if dir == "" {
			return nil
		}
		if _, err := plugin.LoadDynamicPlugins(dir); err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

// loadConfig reads --config when given, the defaults otherwise, with
// VOICETURN_* overrides applied either way.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return config.Load(path)
}

// setupLogger builds the process logger from the log section and installs
// it as the slog default. Logs go to stderr so stdout stays parseable.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// setupMetrics installs the Prometheus-backed meter provider and serves
// /metrics when enabled. The returned function shuts both down.
func setupMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observe.Metrics, func(), error) {
	if !cfg.Metrics.Enabled {
		return observe.Discard(), func() {}, nil
	}

	shutdownProvider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", slog.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return observe.DefaultMetrics(), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = shutdownProvider(shutdownCtx)
	}, nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("plugin-dir", "", "Directory of .so VAD backends to load (needs -tags plugindyn)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(vadCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
