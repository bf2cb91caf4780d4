package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tg-audio-transcriber/internal/adapters/ledger"
	"tg-audio-transcriber/internal/infra/config"
	"tg-audio-transcriber/internal/usecase/channels"
	"tg-audio-transcriber/internal/usecase/ingest"
)

// NewStatusCmd печатает состояние журнала канала.
func NewStatusCmd(opts *rootOptions) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Показать состояние канала в журнале",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: err}
			}
			if channel != "" {
				cfg.Channel.ID = channel
			}
			if strings.TrimSpace(cfg.Channel.ID) == "" {
				return &ExitError{Code: ExitNotStarted, Err: config.ErrChannelRequired}
			}
			ref, err := channels.ParseRef(cfg.Channel.ID)
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: err}
			}

			store, err := ledger.Open(cfg.Channel.StateDir, zerolog.Nop())
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: err}
			}
			defer store.Close()

			return printStatus(cmd.Context(), cmd.OutOrStdout(), ingest.NewLedger(store), ref.Key())
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "канал вместо CHANNEL_ID")
	return cmd
}

func printStatus(ctx context.Context, w io.Writer, l *ingest.Ledger, key string) error {
	state, err := l.State(ctx, key)
	if err != nil {
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	ingested, duplicates, err := l.Counts(ctx, key)
	if err != nil {
		return &ExitError{Code: ExitNotStarted, Err: err}
	}
	pending, err := l.ListPending(ctx, key)
	if err != nil {
		return &ExitError{Code: ExitNotStarted, Err: err}
	}

	display := state.DisplayName
	if display == "" {
		display = "-"
	}
	var errs []error
	write := func(format string, args ...any) {
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			errs = append(errs, err)
		}
	}
	write("channel:      %s\n", key)
	write("display name: %s\n", display)
	write("next ordinal: %d\n", state.NextOrdinal)
	write("cursor:       %d\n", state.Cursor)
	write("ingested:     %d\n", ingested)
	write("duplicates:   %d\n", duplicates)
	write("pending:      %d\n", len(pending))
	for _, f := range pending {
		name := f.CanonicalName
		if name == "" {
			name = f.OriginalName
		}
		write("  #%d %s ordinal=%d stage=%s\n", f.MessageID, name, f.Ordinal, f.Stage)
	}
	return errors.Join(errs...)
}
