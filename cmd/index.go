package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <directory>",
		Short: "Index a directory of Markdown and PDF documents",
		Long: `Index walks the directory, chunks and embeds new or changed files,
re-points moved files without re-embedding, and removes chunks whose
source file is gone. Unchanged files are skipped, so re-running is
cheap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setupApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Pipeline.Index(ctx, args[0])
			if err != nil {
				return fmt.Errorf("indexing %s: %w", args[0], err)
			}

			fmt.Printf("Scanned %d files: %d indexed, %d unchanged, %d failed\n",
				res.FilesScanned, res.FilesIndexed, res.FilesSkipped, res.FilesFailed)
			fmt.Printf("Chunks: %d added, %d re-pointed, %d removed",
				res.ChunksAdded, res.ChunksRepinned, res.ChunksDeleted)
			if res.SourcesRemoved > 0 {
				fmt.Printf(" (%d deleted sources cleaned up)", res.SourcesRemoved)
			}
			fmt.Println()
			return nil
		},
	}
}
