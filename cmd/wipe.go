package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/store"
)

func newWipeCmd() *cobra.Command {
	var (
		source string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete indexed chunks",
		Long: `Wipe deletes every chunk in the index, or only those from one source
file when --source is given. Wiping everything asks for confirmation
unless --yes is passed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var filter store.Filter
			if source != "" {
				filter = store.Filter{store.KeySource: source}
			} else if !yes {
				fmt.Print("This deletes the entire index. Type 'yes' to continue: ")
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				if strings.TrimSpace(line) != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			a, err := setupApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Store.DeleteWhere(ctx, filter)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d chunks.\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only delete chunks from this source file")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
