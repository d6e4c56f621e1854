package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/cache"
)

var errCacheDisabled = errors.New("cache is disabled in the configuration")

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.cache == nil {
				return errCacheDisabled
			}

			stats, err := a.cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fast entries:    %d\nDurable entries: %d\n",
				stats.FastEntries, stats.DurableEntries)
			return nil
		},
	}

	var level string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := cache.ParseLevel(level)
			if err != nil {
				return err
			}
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.cache == nil {
				return errCacheDisabled
			}

			if err := a.cache.Clear(cmd.Context(), lvl); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared (%s).\n", lvl)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&level, "level", "all", "level to clear: fast, durable or all")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.cache == nil {
				return errCacheDisabled
			}

			res, err := a.cache.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired durable entries.\n", res.Durable)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, sweepCmd)
	return cmd
}
