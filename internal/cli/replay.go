package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/loomworks/weft/internal/event"
)

// NewReplayCommand creates the "weft replay" command.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	var fromSeq uint64

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored events in sequence order",
		Long: `Replay streams every journal entry from the given sequence onward,
decoded, in the exact order it was appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			enc := json.NewEncoder(cmd.OutOrStdout())
			n, err := fab.Replay(cmd.Context(), fromSeq, func(seq uint64, ev event.Event) error {
				if opts.Format == "json" {
					return enc.Encode(struct {
						Seq   uint64      `json:"seq"`
						Event event.Event `json:"event"`
					}{seq, ev})
				}
				out.Textf("%6d  %s  %-11s  %-24s  %s", seq, ev.Timestamp, ev.Category, ev.Origin, ev.Payload.Kind)
				return nil
			})
			if err != nil {
				return out.Fail(ExitFailure, "replay", err)
			}
			out.Textf("replayed %d events", n)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&fromSeq, "from", 1, "first sequence to replay")
	return cmd
}
