package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redox-os/ipcd/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the chand cobra command: a single long-running daemon
// command with flag overrides for every Config field a
// deployment is likely to need without a config file, matching the
// teacher's flag-driven DaemonConfig construction in lxd/main_daemon.go.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		group      string
		chanSocket string
		shmSocket  string
		vsockPort  uint32
	)

	cmd := &cobra.Command{
		Use:   "chand",
		Short: "chand publishes the chan and shm microkernel schemes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if cmd.Flags().Changed("group") {
				cfg.Group = group
			}
			if cmd.Flags().Changed("chan-socket") {
				cfg.ChanSocket = chanSocket
			}
			if cmd.Flags().Changed("shm-socket") {
				cfg.ShmSocket = shmSocket
			}
			if cmd.Flags().Changed("vsock-port") {
				cfg.ChanVsockPort = vsockPort
				cfg.ShmVsockPort = vsockPort + 1
				cfg.ChanSocket = ""
				cfg.ShmSocket = ""
			}

			return runDaemon(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to chand's YAML config file")
	flags.BoolVar(&debug, "debug", false, "enable debug-level logging")
	flags.StringVar(&group, "group", "", "Unix group allowed to connect to the scheme sockets")
	flags.StringVar(&chanSocket, "chan-socket", "", "Unix socket path for the chan scheme")
	flags.StringVar(&shmSocket, "shm-socket", "", "Unix socket path for the shm scheme")
	flags.Uint32Var(&vsockPort, "vsock-port", 0, "AF_VSOCK base port (chan scheme uses this port, shm uses port+1); overrides socket paths")

	return cmd
}

// runDaemon builds and runs a Daemon until SIGINT/SIGTERM.
func runDaemon(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := NewDaemon(cfg)

	if err := d.Run(ctx); err != nil {
		logger.Error("chand exited with error", logger.Ctx{"err": err})
		return fmt.Errorf("running chand: %w", err)
	}

	return nil
}
