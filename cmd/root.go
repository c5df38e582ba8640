package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/indiasim/indiasim/pipeline"
)

var (
	logLevel    string // Log verbosity level
	projectRoot string // Project root holding data/, simulation/ and automation/
	configPath  string // Path to indiasim.yaml; defaults to <root>/indiasim.yaml
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "indiasim",
	Short: "Map to road network to traffic simulation pipeline",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings resolves the project layout and the effective configuration:
// defaults, then the YAML file, then .env and the process environment.
// Command flags are applied by the caller.
func loadSettings(cmd *cobra.Command) (pipeline.Config, pipeline.Paths, error) {
	paths, err := pipeline.ResolvePaths(projectRoot)
	if err != nil {
		return pipeline.Config{}, pipeline.Paths{}, err
	}

	path, allowMissing := configPath, false
	if path == "" {
		path, allowMissing = filepath.Join(paths.Root, pipeline.DefaultConfigFile), true
	}
	cfg, err := pipeline.LoadConfig(path, allowMissing)
	if err != nil {
		return cfg, paths, err
	}
	if cfg.Root != "" && !cmd.Flags().Changed("root") {
		if paths, err = pipeline.ResolvePaths(paths.Resolve(cfg.Root)); err != nil {
			return cfg, paths, err
		}
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(filepath.Join(paths.Root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Ignoring unreadable .env: %v", err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, paths, nil
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "Project root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <root>/indiasim.yaml, optional)")
}
