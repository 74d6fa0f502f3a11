package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gauravyad12/unishare-webproxy/internal/config"
	"github.com/gauravyad12/unishare-webproxy/internal/log"
	"github.com/gauravyad12/unishare-webproxy/internal/proxy"
	"github.com/gauravyad12/unishare-webproxy/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "webproxy",
	Short: "UniShare web proxy service",
	Long: `webproxy serves the embedded-browser proxy: it fetches arbitrary web
pages on behalf of authenticated users, rewrites them so that every
sub-resource loads back through the proxy, and guards the endpoint with
per-IP and per-URL rate limits plus domain abuse detection.`,
	RunE: func(cmd *cobra.Command, args []string) error { return cmd.Help() },
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("webproxy %s\n", version.Version)
		fmt.Printf("  Git commit: %s\n", version.GitCommit)
		fmt.Printf("  Build date: %s\n", version.BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.webproxy/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer func() { _ = cfg.Close() }()

	c := cfg.Get()

	if err := log.Setup(c.Log.File, c.Log.Level); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	slog.Info("Starting webproxy", "version", version.Version)

	srv, err := proxy.NewServer(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}
	// Hot-reload: limit/denylist edits take effect without a restart.
	if err := cfg.Watch(srv.ReloadFromConfig); err != nil {
		slog.Warn("Failed to enable config hot-reload; restart may be required after config changes", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}

	return nil
}
