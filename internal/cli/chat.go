package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [doc-id] [question...]",
	Short: "Ask a question about a processed document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if documentService == nil {
			return errors.New("document service not configured")
		}
		return ask(cmd, args[0], strings.Join(args[1:], " "))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [doc-id]",
	Short: "Print the chat history of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
}

func ask(cmd *cobra.Command, docID, question string) error {
	ans, err := documentService.Ask(cmd.Context(), docID, ownerID, question)
	if err != nil {
		return describe(err)
	}
	cmd.Printf("Q: %s\n", question)
	cmd.Printf("A: %s\n", ans.Response)
	if ans.IsFallback {
		cmd.Println("   (answered without document context)")
	} else {
		cmd.Printf("   (%d sections used)\n", ans.ChunksUsed)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	turns, err := documentService.History(cmd.Context(), args[0], ownerID)
	if err != nil {
		return describe(err)
	}
	if len(turns) == 0 {
		cmd.Println("No questions asked yet")
		return nil
	}
	for _, t := range turns {
		cmd.Printf("[%s]\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
		cmd.Printf("Q: %s\n", t.UserMessage)
		cmd.Printf("A: %s\n\n", t.AssistantResponse)
	}
	return nil
}
