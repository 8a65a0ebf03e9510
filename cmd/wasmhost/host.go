package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wasmcloud/wasmhost/pkg/config"
	"github.com/wasmcloud/wasmhost/pkg/host"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run or inspect this machine's host process",
}

var hostConfigPath string

var hostUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a host and block until it is stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(hostConfigPath)
		if err != nil {
			return err
		}
		config.ApplyFlags(cmd.Flags(), &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		h, err := host.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build host: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Println("\nshutting down...")
			cancel()
		}()

		if err := h.Run(ctx); err != nil {
			return fmt.Errorf("host exited: %w", err)
		}
		fmt.Println("host stopped")
		return nil
	},
}

func init() {
	hostUpCmd.Flags().StringVar(&hostConfigPath, "config", "", "path to a host YAML config file")
	config.RegisterFlags(hostUpCmd.Flags())
	hostCmd.AddCommand(hostUpCmd)
}
