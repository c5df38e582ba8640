package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/indiasim/indiasim/pipeline"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, paths, err := loadSettings(cmd)
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}
		cfg.Root = paths.Root
		if err := writeConfig(cmd.OutOrStdout(), cfg); err != nil {
			logrus.Fatalf("Failed to print configuration: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Warnf("Configuration is not valid: %v", err)
		}
	},
}

func writeConfig(w io.Writer, cfg pipeline.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(configCmd)
}
