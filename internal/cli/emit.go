package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/weft/internal/event"
	"github.com/loomworks/weft/internal/fabric"
)

// NewEmitCommand creates the "weft emit" command.
func NewEmitCommand(opts *RootOptions) *cobra.Command {
	var (
		origin   string
		category string
		kind     string
		data     string
		parents  []string
	)

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Emit one event into the fabric",
		Long: `Emit creates an event with the next causal timestamp, appends it
durably to the journal, and routes it to live subscribers.`,
		Example: `  weft emit --origin weaver-1 --category meaning --kind observation --data '{"signal":"stock-low"}'
  weft emit --origin weaver-1 --category commitment --kind promise --parent 0198a...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			cat, err := event.ParseCategory(category)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse category", err)
			}
			var raw json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return NewExitError(ExitCommandError, fmt.Sprintf("--data is not valid JSON: %s", data))
				}
				raw = json.RawMessage(data)
			}

			fab, closeFab, err := openFabric(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFab()

			ev, err := fab.Emit(cmd.Context(), origin, fabric.Draft{
				Category:  cat,
				Payload:   event.Payload{Kind: kind, Data: raw},
				ParentIDs: parents,
			})
			if err != nil {
				return out.Fail(ExitFailure, "emit", err)
			}

			if ok, err := out.JSON(ev); ok {
				return err
			}
			out.Textf("emitted %s", ev.ID)
			out.Textf("  timestamp: %s", ev.Timestamp)
			out.Textf("  category:  %s", ev.Category)
			out.Textf("  hash:      %s", ev.IntegrityHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "emitting collaborator identity (required)")
	cmd.Flags().StringVar(&category, "category", "", "event category (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "payload kind tag (required)")
	cmd.Flags().StringVar(&data, "data", "", "payload body as raw JSON")
	cmd.Flags().StringArrayVar(&parents, "parent", nil, "causal parent event ID (repeatable)")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
