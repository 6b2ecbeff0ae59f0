package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the "weft status" command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fabric counters and clock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			m := fab.Metrics()
			if ok, err := out.JSON(m); ok {
				return err
			}
			out.Textf("events:         %d", m.TotalEvents)
			out.Textf("latest seq:     %d", m.LatestSeq)
			out.Textf("subscriptions:  %d", m.Subscriptions)
			out.Textf("dropped:        %d", m.DroppedDeliveries)
			out.Textf("last timestamp: %s", m.LastTimestamp)
			return nil
		},
	}
	return cmd
}
