package main

import (
	"fmt"
	"os"
	"time"

	"gigsync/internal/client"
	"gigsync/internal/config"
	"gigsync/internal/infra/cache"
	"gigsync/internal/logger"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "gigsync - notification delivery and sync for the gig marketplace",
	Long: `syncd keeps a signed-in user's notifications in sync with the
marketplace: it holds the realtime push channel open, subscribes to the
user's topics, merges pushes with REST history and batches read receipts.

A local HTTP bridge exposes the live state to UI surfaces.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("gigsync version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(uploadCmd)
}

// runtime is what every subcommand needs before it can talk to the marketplace.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	client *client.Client
	close  func()
}

func setup() (*runtime, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.New(logger.FromConfig(cfg.Log.Level, cfg.Log.Format))

	opts := client.Options{
		BaseURL:           cfg.API.BaseURL,
		Token:             cfg.API.Token,
		Timeout:           time.Duration(cfg.API.TimeoutSec) * time.Second,
		TTL:               time.Duration(cfg.Cache.TTLSec) * time.Second,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            log,
	}

	closeFn := func() {}
	if cfg.Cache.Backend == "redis" {
		rc := cache.NewRedisCache(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Cache.KeyPrefix,
			0,
		)
		opts.Cache = rc
		closeFn = func() {
			if err := rc.Close(); err != nil {
				log.Warn("closing redis cache", "error", err)
			}
		}
		log.Info("redis cache initialized", "redis", cfg.Redis.Address)
	}

	c := client.New(opts)
	return &runtime{
		cfg:    cfg,
		log:    log,
		client: c,
		close: func() {
			c.Wait()
			closeFn()
		},
	}, nil
}
