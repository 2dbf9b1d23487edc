package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentgraph/agentgraph-open/pkg/config"
)

var (
	configFile string

	// Build information, set with -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// envSections are the config sections that AGENTGRAPH_* variables may set.
var envSections = []string{"server", "database", "cache", "auth", "graphs", "logging"}

// printVersionInfo displays detailed version information
func printVersionInfo() {
	fmt.Printf("agentgraph manageapi %s\n", Version)
	fmt.Printf("Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "agentgraph",
	Short:         "Agent graph management API",
	Long:          "Serves the multi-tenant REST API that stores agent graphs and reconciles full-graph submissions.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// loadConfig reads the YAML config file, when given, and overlays
// AGENTGRAPH_* environment variables.
func loadConfig() (*config.Config, error) {
	cfg := config.New()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	cfg.LoadEnv("AGENTGRAPH_", envSections)
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("AGENTGRAPH_CONFIG"), "Path to config file")

	setupCommands()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
