package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/engine"
	"github.com/quarrydocs/quarry/internal/session"
)

func newChatCmd() *cobra.Command {
	var hyde bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question loop over the index",
		Long: `Chat starts a REPL. Each answer is grounded in retrieved chunks and
the conversation is recorded as a JSON-lines transcript under the
quarry home directory. Type /exit or press Ctrl+D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := setupApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := session.NewRecorder(filepath.Join(a.Config.HomeDir, "sessions"))
			if err != nil {
				return err
			}
			defer rec.Close()

			fmt.Printf("Session %s (transcript: %s)\n", rec.ID(), rec.Path())
			fmt.Println("Ask away. /exit to quit.")

			var history []engine.Turn
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return scanner.Err()
				case "/clear":
					history = nil
					fmt.Println("History cleared.")
					continue
				}

				if err := rec.Record(session.Turn{Speaker: session.SpeakerUser, Message: line}); err != nil {
					return err
				}

				res, err := a.Engine.Query(ctx, line, engine.Options{HyDE: hyde, History: history})
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}

				fmt.Println(res.Answer)
				if len(res.Sources) > 0 {
					fmt.Printf("[%s]\n", strings.Join(res.Sources, ", "))
				}

				if err := rec.Record(session.Turn{
					Speaker:       session.SpeakerAssistant,
					Message:       res.Answer,
					Sources:       res.Sources,
					ContextChunks: res.ContextChunks,
				}); err != nil {
					return err
				}

				history = append(history,
					engine.Turn{Role: "user", Text: line},
					engine.Turn{Role: "model", Text: res.Answer})
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&hyde, "hyde", false, "retrieve with hypothetical answers instead of raw questions")
	return cmd
}
