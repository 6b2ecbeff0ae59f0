package cli

import (
	"github.com/spf13/cobra"
)

// NewCheckpointCommand creates the "weft checkpoint" command.
func NewCheckpointCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Force pending writes to stable storage",
		Long: `Checkpoint flushes buffered journal writes and reports the highest
durable sequence. Under the "always" sync policy this is a no-op that
still reports the durable watermark.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			seq, err := fab.Checkpoint(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, "checkpoint", err)
			}

			if ok, err := out.JSON(map[string]uint64{"durable_seq": seq}); ok {
				return err
			}
			out.Textf("durable through seq %d", seq)
			return nil
		},
	}
	return cmd
}
