package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/otahub/pkg/otahub/config"
)

var (
	cfgFile     string
	verbose     bool
	quiet       bool
	noAutoStart bool

	// Set by initializeLogging before any command runs.
	appConfig *config.Config
	appViper  *viper.Viper

	rootCmd = &cobra.Command{
		Use:   "otahub",
		Short: "Check for and download OTA firmware updates",
		Long: `otahub checks the update server for new builds of the installed firmware
and downloads them in the background through the otahubd daemon.

Downloads can be paused, resumed, and cancelled, and survive a daemon restart.
Without a subcommand, otahub shows the current update state.

Examples:
  otahub                     # Show update state
  otahub check               # Check for an update now
  otahub download -f         # Download the available update and follow progress
  otahub pause               # Pause the running download
  otahub status -o json      # Machine-readable state
  otahub watch -o jsonl      # Stream state changes`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		RunE:              runStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/otahub/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "pretty", "output format: "+formatList())
	rootCmd.PersistentFlags().StringVar(&templateStr, "template", "", "Go template for output (implies -o template)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level for the log file (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror debug logs to stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-autostart", false, "do not start otahubd if it is not running")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the config file (or --config), the environment, and
// bound flags.
func loadConfig(cmd *cobra.Command) (*viper.Viper, *config.Config, error) {
	v, err := config.NewViper()
	if err != nil {
		return nil, nil, err
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil {
		_ = v.BindPFlag("logging.level", f)
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return v, nil, err
	}
	return v, cfg, nil
}

// printVerbose prints a message to stderr if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format+"\n", args...)
	}
}
