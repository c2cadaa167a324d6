package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidzhou73/convnetlog/internal/config"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/version"
)

var (
	cfgFile  string
	logLevel string
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "convnetlog",
	Short: "Browse and convert BrainCollect network device logs",
	Long: `convnetlog finds the device metadata written by BrainCollect collection
runs, lets you browse the commands captured for each device, and converts
the XML captures into plain per-device terminal transcripts.

Only the newest timestamped snapshot under each BrainCollect directory is
read.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("convnetlog %s\n", version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/convnetlog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration, applies the global flags and initialises
// the global logger. Any failure ends the process.
func setup() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if debug {
		cfg.Log.Debug = true
	}

	_, err = logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Debug:  cfg.Log.Debug,
		Output: cfg.Log.Output,
		JSON:   cfg.Log.JSON,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
