package cli

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomworks/weft/internal/event"
)

// NewTailCommand creates the "weft tail" command.
func NewTailCommand(opts *RootOptions) *cobra.Command {
	var (
		categories []string
		origins    []string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live events matching the given filters",
		Long: `Tail subscribes to the fabric and prints matching events as they
arrive, until interrupted. Category and origin filters are AND-combined;
omitting both streams everything.`,
		Example: `  weft tail
  weft tail --category commitment --origin weaver-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			var cats []event.Category
			for _, c := range categories {
				cat, err := event.ParseCategory(c)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse category", err)
				}
				cats = append(cats, cat)
			}

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub := fab.Subscribe(cats, origins)
			defer sub.Cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sub.C:
					if !ok {
						return nil
					}
					if opts.Format == "json" {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					out.Textf("%s  %-11s  %-24s  %s", ev.Timestamp, ev.Category, ev.Origin, ev.Payload.Kind)
				}
			}
		},
	}

	cmd.Flags().StringArrayVar(&categories, "category", nil, "category filter (repeatable)")
	cmd.Flags().StringArrayVar(&origins, "origin", nil, "origin filter (repeatable)")
	return cmd
}
