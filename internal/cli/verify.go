package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVerifyCommand creates the "weft verify" command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every stored event's integrity",
		Long: `Verify recomputes the storage checksum and the integrity hash of
every journal entry. Mismatches are reported, never repaired; the exit
code is nonzero when any entry fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			report, err := fab.Verify(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, "verify", err)
			}

			if ok, err := out.JSON(report); ok {
				if err != nil {
					return err
				}
			} else {
				out.Textf("total:      %d", report.Total)
				out.Textf("verified:   %d", report.Verified)
				out.Textf("mismatched: %d", report.Mismatched)
				for _, seq := range report.MismatchedSeqs {
					out.Textf("  seq %d failed verification", seq)
				}
			}

			if report.Mismatched > 0 {
				return NewExitError(ExitFailure,
					fmt.Sprintf("%d of %d entries failed verification", report.Mismatched, report.Total))
			}
			return nil
		},
	}
	return cmd
}
