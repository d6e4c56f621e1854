package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/models"
)

const chatHelp = `Commands: /reset clears the conversation, /cache shows cache statistics, /exit quits.`

func newChatCmd(g *globalFlags) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session that keeps the conversation",
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
			if err := a.startBackground(ctx, true); err != nil {
				return err
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			system := f.systemPrompt(a.cfg.SystemPrompt)
			conv := models.NewConversation(system)
			opts := f.options(cmd)

			fmt.Fprintln(out, chatHelp)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					conv = models.NewConversation(system)
					fmt.Fprintln(out, "Conversation cleared.")
					continue
				case "/cache":
					if a.cache == nil {
						fmt.Fprintln(out, "Cache is disabled.")
						continue
					}
					stats, err := a.cache.Stats(ctx)
					if err != nil {
						fmt.Fprintln(errOut, "error:", err)
						continue
					}
					fmt.Fprintf(out, "fast=%d durable=%d hits=%d misses=%d evictions=%d\n",
						stats.FastEntries, stats.DurableEntries, stats.Hits, stats.Misses, stats.Evictions)
					continue
				}

				next, err := conv.Append(models.RoleUser, line)
				if err != nil {
					return err
				}
				answer, err := svc.Ask(ctx, next, opts)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintln(errOut, "error:", describe(err))
					continue
				}
				conv, err = next.Append(models.RoleAssistant, answer.Content)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, answer.Content)
				if f.verbose {
					printDetails(errOut, answer)
				}
			}
			fmt.Fprintln(out)
			return scanner.Err()
		},
	}

	f.register(cmd)
	return cmd
}
