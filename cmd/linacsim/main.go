package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/san-kum/linacsim/internal/config"
	"github.com/san-kum/linacsim/internal/storage"
	"github.com/san-kum/linacsim/internal/viz"
)

// options holds the persistent flags shared by every command.
type options struct {
	configFile   string
	dataDir      string
	backend      string
	logLevel     string
	theme        string
	solverPreset string
	wtfPreset    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "linacsim",
		Short:        "linac envelope simulation and cavity failure compensation",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&opts.dataDir, "data", "", "run storage directory, overrides storage.dir")
	pf.StringVar(&opts.backend, "backend", "", "storage backend: file, memory or sqlite")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	pf.StringVar(&opts.theme, "theme", viz.ThemeDefault.Name, "colour theme")
	pf.StringVar(&opts.solverPreset, "solver-preset", "", "beam_calculator preset")
	pf.StringVar(&opts.wtfPreset, "preset", "", "wtf preset")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newFixCmd(opts),
		newStudyCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newPlotCmd(opts),
		newExportCmd(opts),
		newPresetsCmd(),
		newFieldMapCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config file, applies the presets and then the
// command line overrides, and sets up logging.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if o.solverPreset != "" {
		if err := config.ApplyPreset(cfg, "beam_calculator", o.solverPreset); err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, config.ListPresets("beam_calculator"))
		}
	}
	if o.wtfPreset != "" {
		if err := config.ApplyPreset(cfg, "wtf", o.wtfPreset); err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, config.ListPresets("wtf"))
		}
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Storage.Dir = o.dataDir
	}
	if flags.Changed("backend") {
		cfg.Storage.Backend = o.backend
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if err := config.SetupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) openStore(cmd *cobra.Command, cfg *config.Config) (storage.Store, error) {
	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := st.Init(cmd.Context()); err != nil {
		return nil, err
	}
	return st, nil
}

// store opens the configured store for commands reading past runs.
func (o *options) store(cmd *cobra.Command) (storage.Store, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return o.openStore(cmd, cfg)
}

func (o *options) styles() (viz.Styles, error) {
	t, ok := viz.GetTheme(o.theme)
	if !ok {
		return viz.Styles{}, fmt.Errorf("unknown theme: %s (available: %v)", o.theme, viz.ThemeNames())
	}
	return viz.NewStyles(t), nil
}
