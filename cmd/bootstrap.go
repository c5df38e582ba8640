package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/indiasim/indiasim/pipeline/bootstrap"
)

// bootstrapCmd only prepares the venv and the generated RPC code
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the Python venv and generate RoadRunner RPC stubs",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, paths, err := loadSettings(cmd)
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}
		if cmd.Flags().Changed("rr-install") {
			cfg.RoadRunner.InstallPath = rrInstall
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := bootstrap.New(cfg.BootstrapConfig(paths), nil).EnsureReady(cmd.Context()); err != nil {
			logrus.Fatalf("Setup failed: %v", err)
		}
		logrus.Info("Setup verified.")
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&rrInstall, "rr-install", "", "RoadRunner installation directory")
	rootCmd.AddCommand(bootstrapCmd)
}
