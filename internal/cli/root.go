package cli

import (
	"os"

	"github.com/spf13/cobra"

	"taskmgr/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "taskmgr",
	Short: "Task manager for deferred monitoring tasks",
	Long: `taskmgr drains the task queue on a fixed cadence: it closes problems,
expires remote commands, applies remote command results and processes
acknowledgements, then sweeps old finished tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to taskmgr.yaml (default: built-in defaults)")
	rootCmd.PersistentFlags().String("driver", "", "Store driver override (sqlite, postgres)")
	rootCmd.PersistentFlags().String("db", "", "Store DSN override; a file path for sqlite")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file, applies flag overrides, validates the
// result and configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"driver", &cfg.Store.Driver},
		{"db", &cfg.Store.DSN},
		{"log-level", &cfg.Log.Level},
		{"addr", &cfg.HTTP.Addr},
	}
	for _, o := range overrides {
		if f := cmd.Flags().Lookup(o.flag); f != nil && f.Changed {
			*o.dst = f.Value.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Log.SetupLogging(os.Stderr)
	return cfg, nil
}
