package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roost-io/roost/pkg/api"
	"github.com/roost-io/roost/pkg/attach"
	"github.com/roost-io/roost/pkg/config"
	"github.com/roost-io/roost/pkg/devctl"
	"github.com/roost-io/roost/pkg/events"
	"github.com/roost-io/roost/pkg/imagefile"
	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/metrics"
	"github.com/roost-io/roost/pkg/storage"
	"github.com/roost-io/roost/pkg/timer"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "roostd",
	Short: "Roost - hypervisor host management daemon",
	Long: `Roost manages storage devices for virtual machines on a hypervisor
host: disk and CD-ROM attachment, guest-cooperative eject, I/O limits,
and the deferred work behind them, driven by a single background
scheduler.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Roost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the roostd daemon",
	Long: `Run the roostd daemon: open the state database, start the background
scheduler and attachment workflow, and serve the JSON-RPC API until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Explicit flags win over the config file
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
		}
		if cmd.Flags().Changed("listen-addr") {
			cfg.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}
		if cmd.Flags().Changed("log-level") {
			level, _ := cmd.Flags().GetString("log-level")
			cfg.Log.Level = log.Level(level)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      cfg.Log.Level,
			JSONOutput: cfg.Log.JSON,
		})

		return runDaemon(cfg, configPath)
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to YAML config file")
	runCmd.Flags().String("data-dir", "", "Data directory for state and disk images")
	runCmd.Flags().String("listen-addr", "", "JSON-RPC API listen address")
	runCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address")
	runCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func runDaemon(cfg *config.Config, configPath string) error {
	log.Logger.Info().
		Str("version", Version).
		Str("data_dir", cfg.DataDir).
		Msg("starting roostd")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}

	imagesDir := cfg.Attach.ImagesDir
	if imagesDir == "" {
		imagesDir = imagefile.DefaultImagesPath
	}
	images, err := imagefile.NewManager(afero.NewOsFs(), imagesDir)
	if err != nil {
		return fmt.Errorf("failed to prepare images dir: %w", err)
	}

	sched := timer.NewWithConfig(timer.Config{
		MaxIdleWait: cfg.Scheduler.MaxIdleWait,
	})
	sched.Start()

	broker := events.NewBroker()
	broker.Start()

	controller := devctl.NewHostController(cfg.Attach.EjectDelay)

	manager, err := attach.NewManager(attach.Config{
		Store:            store,
		Controller:       controller,
		Scheduler:        sched,
		Broker:           broker,
		Images:           images,
		TrayPollInterval: cfg.Attach.TrayPollInterval,
		OpTimeout:        cfg.Attach.OpTimeout,
		QoSInterval:      cfg.Attach.QoSInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create attachment manager: %w", err)
	}
	manager.Start()

	apiServer := api.NewServer(api.Config{
		Manager:   manager,
		Scheduler: sched,
		Version:   Version,
	})
	if err := apiServer.Start(cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath)
		if err != nil {
			log.Logger.Warn().Err(err).Msg("config reload disabled")
		} else {
			watcher.Start()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	// Shutdown in reverse dependency order
	if watcher != nil {
		watcher.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("API server shutdown incomplete")
	}
	manager.Stop()
	sched.Stop()
	broker.Stop()
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}

	log.Logger.Info().Msg("shutdown complete")
	return nil
}
