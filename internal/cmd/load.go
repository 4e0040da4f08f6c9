package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/formrunner/internal/store"
)

var loadCmd = &cobra.Command{
	Use:   "load <target> <file>",
	Short: "Seed a target's items from a JSON file",
	Long: `Load reads a JSON array of item payloads and stores them as the pending
items of target, replacing items with the same index. Each array element
becomes one item; its position is the item index. Use "-" to read stdin.

Example:
  formrunner load r-1 items.json`,
	Args: cobra.ExactArgs(2),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	target, path := args[0], args[1]

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open items file: %w", err)
		}
		defer f.Close()
		r = f
	}

	items, err := decodeItems(r)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.store.PutItems(cmd.Context(), target, items); err != nil {
		return fmt.Errorf("failed to store items: %w", err)
	}
	a.logger.WithTarget(target).Info("items loaded", "count", len(items))
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d items for %s\n", len(items), target)
	return nil
}

// decodeItems reads a JSON array of payloads into pending items.
func decodeItems(r io.Reader) ([]store.Item, error) {
	var payloads []json.RawMessage
	if err := json.NewDecoder(r).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("items file must hold a JSON array: %w", err)
	}
	items := make([]store.Item, len(payloads))
	for i, p := range payloads {
		items[i] = store.Item{Index: i, Payload: p, SubmitState: store.Pending}
	}
	return items, nil
}
