package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Upload and index a document",
	Long: `Uploads a PDF, DOCX or TXT file, waits for indexing to finish and prints the result.
Without DATABASE_URL the index lives in memory, so pass --question to ask in the same run.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var statusCmd = &cobra.Command{
	Use:   "status [doc-id]",
	Short: "Show a document's processing status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess [doc-id]",
	Short: "Retry processing of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Delete a document, its vectors and its chat history",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var ingestQuestions []string

func init() {
	ingestCmd.Flags().StringArrayVarP(&ingestQuestions, "question", "q", nil, "Question to ask once indexing finishes (repeatable)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := filepath.Base(args[0])
	doc, err := documentService.UploadAndCreate(ctx, ownerID, name, mime.TypeByExtension(filepath.Ext(name)), info.Size(), f)
	if err != nil {
		return describe(err)
	}
	cmd.Printf("Uploaded %s as %s\n", name, doc.ID)

	waitIngestion()

	doc, err = documentService.Get(ctx, doc.ID, ownerID)
	if err != nil {
		return describe(err)
	}
	printDocument(cmd, doc)
	if doc.Status != models.StatusProcessed {
		return fmt.Errorf("document %s was not processed", doc.ID)
	}

	for _, q := range ingestQuestions {
		if err := ask(cmd, doc.ID, q); err != nil {
			return err
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	doc, err := documentService.Get(cmd.Context(), args[0], ownerID)
	if err != nil {
		return describe(err)
	}
	printDocument(cmd, doc)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	docs, err := documentService.List(cmd.Context(), ownerID)
	if err != nil {
		return describe(err)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found")
		return nil
	}
	for i := range docs {
		cmd.Printf("  %s  %-10s  %4d chunks  %s\n", docs[i].ID, docs[i].Status, docs[i].ChunkCount, docs[i].FileName)
	}
	cmd.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	ctx := cmd.Context()
	if _, err := documentService.Reprocess(ctx, args[0], ownerID); err != nil {
		return describe(err)
	}
	waitIngestion()

	doc, err := documentService.Get(ctx, args[0], ownerID)
	if err != nil {
		return describe(err)
	}
	printDocument(cmd, doc)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}
	if err := documentService.Delete(cmd.Context(), args[0], ownerID); err != nil {
		return describe(err)
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func printDocument(cmd *cobra.Command, doc *models.Document) {
	cmd.Printf("Document: %s\n", doc.ID)
	cmd.Printf("  File:   %s (%s, %d bytes)\n", doc.FileName, doc.Format, doc.SizeBytes)
	cmd.Printf("  Status: %s\n", doc.Status)
	if doc.Status == models.StatusProcessed {
		cmd.Printf("  Chunks: %d\n", doc.ChunkCount)
	}
	if doc.ErrorMessage != "" {
		cmd.Printf("  Error:  %s\n", doc.ErrorMessage)
	}
}

// describe swaps a tagged error for its user-facing message, keeping the kind.
func describe(err error) error {
	kind := core.KindOf(err)
	if kind == core.KindInternal {
		return err
	}
	return fmt.Errorf("%s (%s)", core.UserMessage(err), kind)
}
