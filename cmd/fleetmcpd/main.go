// Command fleetmcpd runs the MCP provider fleet: it launches and
// supervises a set of configured MCP tool providers, load-balances across
// groups of them, and republishes their combined tool catalog as a single
// external MCP server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// rootCmd is the entry point when fleetmcpd is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "fleetmcpd",
	Short: "Run and supervise a fleet of MCP tool providers",
	Long: `fleetmcpd starts, health-checks, and garbage-collects a configured set
of MCP tool providers (subprocess, docker, or remote), load-balances tool
calls across provider groups, and exposes the aggregate tool catalog as a
single MCP server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "fleetmcpd version %s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
