// Command repairflow runs the repair job service and its companion tools.
//
//	repairflow serve     start the HTTP service
//	repairflow rank      rank a roster for one job spec, offline
//	repairflow simulate  drive a running service through a simulated shop day
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/repairflow/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "repairflow",
		Short:        "Repair job lifecycle and technician assignment service",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvConfigPath), "YAML config file")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format override: text or json")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newRankCommand(opts))
	root.AddCommand(newSimulateCommand(opts))
	return root
}
