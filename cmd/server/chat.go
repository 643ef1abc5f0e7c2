package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/metrics"
	"github.com/ashureev/intakeflow/internal/store"
)

func newChatCmd(setup setupFunc) *cobra.Command {
	var (
		prefill map[string]string
		persist bool
		source  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interview in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			var persister engine.Persister
			if persist {
				repo, err := store.NewSQLite(cfg.DBPath, store.WithLogger(logger))
				if err != nil {
					return fmt.Errorf("initialize database: %w", err)
				}
				defer func() { _ = repo.Close() }()
				persister = repo
			}

			processor, err := newProcessor(cmd.Context(), cfg, metrics.New(), persister, logger)
			if err != nil {
				return err
			}

			values := make(map[string]any, len(prefill))
			for k, v := range prefill {
				values[k] = v
			}
			return chat(cmd.Context(), processor, source, values, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringToStringVar(&prefill, "prefill", nil, "field values handed over by a previous step, e.g. role=engineer,goal=ship")
	cmd.Flags().BoolVar(&persist, "persist", false, "save snapshots to DB_PATH")
	cmd.Flags().StringVar(&source, "source", "cli", "metadata source tag")
	return cmd
}

// chat drives one conversation over a line-oriented reader and writer until
// it completes or input ends. Prefill is applied on the first turn.
func chat(ctx context.Context, p *engine.Processor, source string, prefill map[string]any, in io.Reader, out io.Writer) error {
	resp, err := p.Start(ctx, source)
	if err != nil {
		return err
	}
	printTurn(out, resp)

	scanner := bufio.NewScanner(in)
	state := resp.State
	for !state.IsComplete {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, err = p.ProcessTurn(ctx, engine.TurnRequest{State: state, UserMessage: line, Prefill: prefill})
		if errors.Is(err, engine.ErrInvalidInput) {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
		prefill = nil
		state = resp.State
		printTurn(out, resp)
	}

	fmt.Fprintln(out, "\nCollected profile:")
	for _, spec := range domain.Fields() {
		rec := state.Field(spec.Name)
		if !rec.Filled() {
			continue
		}
		fmt.Fprintf(out, "  %-18s %s (%s, %s)\n", spec.Name, rec.Value, rec.Status, rec.Confidence)
	}
	return nil
}

func printTurn(out io.Writer, resp *engine.TurnResponse) {
	fmt.Fprintf(out, "[%s %d%%] %s\n", resp.State.ActivePhase, resp.Progress, resp.Message)
	if resp.Action != nil && len(resp.Action.Options) > 0 {
		fmt.Fprintf(out, "    options: %s\n", strings.Join(resp.Action.Options, ", "))
	}
}
