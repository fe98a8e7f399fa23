package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/engine"
	"github.com/quarrydocs/quarry/internal/store"
)

func newAskCmd() *cobra.Command {
	var (
		topK   int
		topN   int
		hyde   bool
		source string
		noSrcs bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question against the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setupApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := engine.Options{TopK: topK, TopN: topN, HyDE: hyde}
			if source != "" {
				opts.Filter = store.Filter{store.KeySource: source}
			}

			res, err := a.Engine.Query(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}

			fmt.Println(res.Answer)
			if !noSrcs && len(res.Sources) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, src := range res.Sources {
					fmt.Printf("  %s\n", src)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "candidate chunks to retrieve (default from config)")
	cmd.Flags().IntVar(&topN, "top-n", 0, "chunks handed to the model (default from config)")
	cmd.Flags().BoolVar(&hyde, "hyde", false, "retrieve with a hypothetical answer instead of the raw question")
	cmd.Flags().StringVar(&source, "source", "", "restrict retrieval to one source file")
	cmd.Flags().BoolVar(&noSrcs, "no-sources", false, "suppress the source list")
	return cmd
}
