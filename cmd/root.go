// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sora/internal/config"
	"sora/internal/events"
	"sora/internal/history"
	"sora/internal/httputil"
	"sora/internal/logging"
	"sora/internal/media"
	"sora/internal/module"
	"sora/internal/provider"
	"sora/internal/sandbox"
	"sora/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagModule  string
	flagStore   string
	flagQuality string
	flagJSON    bool
	flagDebug   bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

// app holds the core components shared by every command.
var app *core

type core struct {
	logger   *zap.Logger
	store    store.Store
	bus      *events.Bus
	sandbox  *sandbox.Sandbox
	modules  *module.Manager
	watching *history.Watching
	reading  *history.Reading
}

var rootCmd = &cobra.Command{
	Use:   "sora",
	Short: "Run module scripts, stream and download from the terminal",
	Long: `Sora drives user-installed source modules: search and extract streams
with a module's script, resolve HLS variants, download assets and keep
continue-watching and continue-reading progress.`,
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeCore,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagModule, "module", "m", "", "Module id or source name (default: selected module)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Store backend: badger | sqlite | memory")
	rootCmd.PersistentFlags().StringVarP(&flagQuality, "quality", "q", "", "Quality: Auto | Best | High | Medium | Low")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// The version command needs no store or sandbox.
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "sora", Version)
	},
}

// loadConfig loads and merges configuration, then builds the core components.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagStore != "" {
		cfg.Store = flagStore
	}
	if flagQuality != "" {
		cfg.PlaybackQuality = flagQuality
		cfg.DownloadQuality = flagQuality
	}
	if flagDebug {
		cfg.Debug = true
	}
	if cfg.AppVersion == "dev" {
		cfg.AppVersion = Version
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err = newCore(cfg)
	return err
}

func newCore(c *config.Config) (*core, error) {
	logger, err := logging.New(c.Debug)
	if err != nil {
		return nil, err
	}

	dataDir, err := c.ExpandDataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	kv, err := store.Open(c.Store, dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", c.Store, err)
	}

	if c.RemainingTimePercentage > 0 {
		if err := store.SetFloat(kv, history.KeyRemainingTimePercentage, float64(c.RemainingTimePercentage)); err != nil {
			kv.Close()
			return nil, fmt.Errorf("saving remaining time percentage: %w", err)
		}
	}

	bus := events.NewBus(0, logger)
	client := httputil.NewClient()
	opts := history.Options{Store: kv, Bus: bus, Logger: logger}

	return &core{
		logger: logger,
		store:  kv,
		bus:    bus,
		sandbox: sandbox.New(sandbox.Options{
			Client:  client,
			Logger:  logger,
			AppInfo: sandbox.AppInfo{Name: c.AppName, Version: c.AppVersion},
		}),
		modules:  module.NewManager(kv, client, bus, logger),
		watching: history.NewWatching(opts),
		reading:  history.NewReading(opts),
	}, nil
}

func closeCore(cmd *cobra.Command, args []string) error {
	if app == nil {
		return nil
	}
	app.sandbox.Close()
	app.bus.Close()
	err := app.store.Close()
	// Sync fails on stderr for terminals; that is not worth reporting.
	_ = app.logger.Sync()
	app = nil
	return err
}

// selectedModule returns the module named by --module, or the selected one.
func selectedModule() (media.Module, error) {
	if flagModule == "" {
		mod, ok, err := app.modules.Active()
		if err != nil {
			return media.Module{}, err
		}
		if !ok {
			return media.Module{}, fmt.Errorf("no module selected: run 'sora module use <id>' or pass --module")
		}
		return mod, nil
	}

	mods, err := app.modules.List()
	if err != nil {
		return media.Module{}, err
	}
	for _, m := range mods {
		if m.ID == flagModule || strings.EqualFold(m.Metadata.SourceName, flagModule) {
			return app.modules.Get(m.ID)
		}
	}
	return media.Module{}, fmt.Errorf("module %q is not installed", flagModule)
}

// activeProvider builds a script provider for the selected module.
func activeProvider() (*provider.Script, error) {
	mod, err := selectedModule()
	if err != nil {
		return nil, err
	}
	app.logger.Debug("using module", zap.String("id", mod.ID), zap.String("source", mod.Metadata.SourceName))
	return provider.NewScript(app.sandbox, mod, httputil.NewClient(), app.logger), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
