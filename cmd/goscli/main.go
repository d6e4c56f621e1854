package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "goscli",
		Short:         "goscli - cached, rate-limited language model client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file (default ~/.goscli/config.yaml)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "path to .env file (default ./.env)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newAskCmd(g),
		newChatCmd(g),
		newServeCmd(g),
		newCacheCmd(g),
		newStatsCmd(g),
		newMCPCmd(g),
	)
	return root
}
