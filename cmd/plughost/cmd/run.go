package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/logging"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/sandbox"
	"github.com/dshills/plughost/internal/security"
)

var (
	pluginPaths []string
	dataRoot    string
	stateFile   string
	isolation   string
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the plugin host",
	Long: `Discover, load and activate plugins, then keep them running until
interrupted. SIGHUP re-runs discovery to pick up newly installed plugins.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr := plugin.NewManager(managerConfig())

		ctx := cmd.Context()
		if err := mgr.Init(ctx); err != nil {
			return err
		}
		for id, err := range mgr.Errors() {
			log.Warn().Err(err).Str("plugin", id).Msg("plugin is not healthy")
		}

		config.OnChange(func() {
			log.Info().Msg("configuration file changed, notifying plugins")
			mgr.NotifyConfigChanged()
		})

		reloadChan := make(chan os.Signal, 1)
		signal.Notify(reloadChan, syscall.SIGHUP)
		go func() {
			for range reloadChan {
				if err := mgr.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("plugin refresh failed")
				} else {
					log.Info().Msg("plugin refresh complete")
				}
			}
		}()

		stopChan := make(chan os.Signal, 1)
		signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-stopChan
		log.Info().Msgf("signal %v received, shutting down", sig)

		return mgr.Shutdown()
	},
}

// managerConfig assembles the manager configuration from the config file
// and command-line overrides.
func managerConfig() plugin.ManagerConfig {
	cfg := config.Get()

	paths := cfg.Plugins.Paths
	if len(pluginPaths) > 0 {
		paths = pluginPaths
	}
	root := cfg.Plugins.DataRoot
	if dataRoot != "" {
		root = dataRoot
	}
	state := cfg.Plugins.StateFile
	if stateFile != "" {
		state = stateFile
	}
	iso := cfg.Sandbox.Isolation
	if isolation != "" {
		iso = isolation
	}

	policy := security.DefaultPolicy()
	if d, err := time.ParseDuration(cfg.Resources.BreachWindow); err == nil && d > 0 {
		policy.Window = d
	}

	mc := plugin.ManagerConfig{
		PluginPaths: paths,
		DataRoot:    root,
		StateFile:   state,
		Isolation:   sandbox.ParseIsolation(iso),
		MaxRestarts: cfg.Sandbox.MaxRestarts,
		Policy:      &policy,
		HistorySize: cfg.Events.HistorySize,
		Logger:      logging.Component("plugin"),
	}
	if d, err := time.ParseDuration(cfg.Sandbox.RestartDelay); err == nil {
		mc.RestartDelay = d
	}
	if d, err := time.ParseDuration(cfg.Resources.SampleInterval); err == nil {
		mc.SampleInterval = d
	}
	return mc
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVar(&pluginPaths, "plugin-path", nil, "Plugin search path (repeatable, overrides config)")
	runCmd.Flags().StringVar(&dataRoot, "data-root", "", "Base directory for plugin data")
	runCmd.Flags().StringVar(&stateFile, "state-file", "", "File to persist registry state on shutdown")
	runCmd.Flags().StringVar(&isolation, "isolation", "", "Sandbox isolation level (minimal, moderate, strict)")
}
