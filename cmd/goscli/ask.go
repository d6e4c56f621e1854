package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/service"
)

// requestFlags are shared by ask and chat.
type requestFlags struct {
	model       string
	system      string
	noCache     bool
	temperature float64
	maxTokens   int
	verbose     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model to use (default from config)")
	cmd.Flags().StringVar(&f.system, "system", "", "system prompt (default from config)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens in the answer")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print provider, cache and token details to stderr")
}

func (f *requestFlags) options(cmd *cobra.Command) service.AskOptions {
	opts := service.AskOptions{
		Model:   f.model,
		NoCache: f.noCache,
		Params:  provider.Params{MaxTokens: f.maxTokens},
	}
	if cmd.Flags().Changed("temperature") {
		t := f.temperature
		opts.Params.Temperature = &t
	}
	return opts
}

func (f *requestFlags) systemPrompt(fallback string) string {
	if f.system != "" {
		return f.system
	}
	return fallback
}

func printDetails(w io.Writer, a *service.Answer) {
	source := "provider"
	if a.Cached {
		source = "cache"
	}
	fmt.Fprintf(w, "[%s %s/%s via %s, prompt ~%d tokens, %d dropped, %d attempts, usage %d/%d]\n",
		a.RequestID, a.Provider, a.Model, source, a.PromptTokens, a.Removed, a.Attempts, a.Usage.PromptTokens, a.Usage.CompletionTokens)
}

func newAskCmd(g *globalFlags) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question (reads stdin when no prompt is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = string(data)
			}
			if strings.TrimSpace(prompt) == "" {
				return errors.New("a prompt is required")
			}

			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			svc, err := a.service()
			if err != nil {
				return err
			}

			conv, err := models.NewConversation(f.systemPrompt(a.cfg.SystemPrompt)).Append(models.RoleUser, prompt)
			if err != nil {
				return err
			}
			answer, err := svc.Ask(cmd.Context(), conv, f.options(cmd))
			if err != nil {
				return describe(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), answer.Content)
			if f.verbose {
				printDetails(cmd.ErrOrStderr(), answer)
			}
			return nil
		},
	}

	f.register(cmd)
	return cmd
}
