package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/formrunner/internal/store"
)

var itemsCmd = &cobra.Command{
	Use:   "items <target>",
	Short: "List a target's items and their submit states",
	Args:  cobra.ExactArgs(1),
	RunE:  runItems,
}

var (
	itemsState string
	itemsJSON  bool
)

func init() {
	rootCmd.AddCommand(itemsCmd)

	itemsCmd.Flags().StringVar(&itemsState, "state", "", "only show items in this state (pending, submitted, incomplete, complete)")
	itemsCmd.Flags().BoolVar(&itemsJSON, "json", false, "print one JSON object per item")
}

func runItems(cmd *cobra.Command, args []string) error {
	target := args[0]

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	items, err := a.store.LoadItems(cmd.Context(), target)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}

	if itemsState != "" {
		want := store.SubmitState(strings.ToUpper(itemsState))
		filtered := items[:0]
		for _, it := range items {
			if it.SubmitState == want {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	out := cmd.OutOrStdout()
	if itemsJSON {
		enc := json.NewEncoder(out)
		for _, it := range items {
			if err := enc.Encode(it); err != nil {
				return err
			}
		}
		return nil
	}

	if len(items) == 0 {
		fmt.Fprintf(out, "No items for %s\n", target)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTATE\tEXTERNAL ID")
	for _, it := range items {
		id := it.ExternalID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", it.Index, it.SubmitState, id)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	counts := store.Counts(items)
	fmt.Fprintf(out, "\n%d items: %d complete, %d incomplete, %d submitted, %d pending\n",
		len(items), counts[store.Complete], counts[store.Incomplete], counts[store.Submitted], counts[store.Pending])
	return nil
}
