package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"testctl/internal/config"
	"testctl/pkg/logging"
)

var (
	logLevelFlag  string
	logFormatFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "testctl",
	Short: "Browse and run remotely discovered test catalogs",
	Long: `testctl maintains a local mirror of hierarchical test catalogs owned by
remote test controllers. Discovery is lazy: producers reveal only the parts
of the tree you ask for, and testctl merges their incremental diffs into a
consistent local view that can be browsed, filtered per file, and resolved
into per-producer run plans.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed discovery)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "testctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newTreeCmd())
	rootCmd.AddCommand(newTestsCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "log format (text, json)")
}

// initRuntime loads the layered config and initializes logging from it,
// honoring flag overrides.
func initRuntime() (config.TestctlConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.TestctlConfig{}, err
	}

	level := cfg.GlobalSettings.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	format := cfg.GlobalSettings.LogFormat
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	logging.InitForCLI(logging.ParseLevel(level), os.Stderr, format)

	return cfg, nil
}
