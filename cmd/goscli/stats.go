package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/mcp"
)

func newStatsCmd(g *globalFlags) *cobra.Command {
	var (
		since  string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics and budget status",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := mcp.ParseSince(since, time.Now())
			if err != nil {
				return err
			}
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if recent > 0 {
				recs, err := a.tracker.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No requests recorded.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tPROVIDER\tMODEL\tPROMPT\tCOMPLETION\tCACHED\tATTEMPTS\tLATENCY")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%t\t%d\t%dms\n",
						r.CreatedAt.Local().Format("2006-01-02T15:04:05"), r.Provider, r.Model, r.PromptTokens, r.CompletionTokens, r.CacheHit, r.Attempts, r.LatencyMs)
				}
				return w.Flush()
			}

			rows, err := a.tracker.Summary(ctx, from)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No usage data found.")
			} else {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tCACHE HITS\tFALLBACKS\tPROMPT\tCOMPLETION\tTOTAL")
				for _, s := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
						s.Provider, s.Model, s.RequestCount, s.CacheHits, s.Fallbacks, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			statuses, err := a.budget.Status(ctx)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUDGET\tPERIOD\tSINCE\tUSED\tLIMIT\tREMAINING")
			for _, s := range statuses {
				model := s.Policy.Model
				if model == "" {
					model = "(all models)"
				}
				period := s.Policy.Period
				if period == "" {
					period = "daily"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					model, period, s.Since.Format("2006-01-02"), s.Used, s.Policy.MaxTokens, s.Remaining)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only include usage since a duration ago (24h) or a date (2006-01-02)")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the most recent requests instead of the summary")
	return cmd
}
