package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wasmcloud/wasmhost/pkg/config"
	"github.com/wasmcloud/wasmhost/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var logCfg log.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wasmhost",
	Short: "wasmhost runs a single host in a wasmCloud-style component lattice",
	Long: `wasmhost schedules WebAssembly components and starts capability
providers on behalf of a distributed lattice, coordinating with its peers
over a replicated control plane rather than a central scheduler.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("wasmhost version %s\ncommit: %s\n", Version, Commit))

	logCfg.Level = log.InfoLevel
	config.BindLogFlags(rootCmd, &logCfg)

	cobra.OnInitialize(func() { log.Init(logCfg) })

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(ctlCmd)
}
