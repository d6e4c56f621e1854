package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/proxy"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an OpenAI-compatible chat completions endpoint backed by the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			svc, err := a.service()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := a.startBackground(ctx, false); err != nil {
				return err
			}

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := proxy.New(svc, proxy.WithLogger(a.logger), proxy.WithMetrics(a.metrics.Handler()))
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}
