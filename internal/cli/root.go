// Package cli implements the docchat command line.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/app"
	"github.com/markdave123-py/docchat/internal/config"
	"github.com/markdave123-py/docchat/internal/core/chat_engine"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

// DocumentService is what the commands call.
type DocumentService interface {
	UploadAndCreate(ctx context.Context, ownerID, filename, contentType string, size int64, data io.Reader) (*models.Document, error)
	Get(ctx context.Context, id, ownerID string) (*models.Document, error)
	List(ctx context.Context, ownerID string) ([]models.Document, error)
	Reprocess(ctx context.Context, id, ownerID string) (*models.Document, error)
	Delete(ctx context.Context, id, ownerID string) error
	Ask(ctx context.Context, id, ownerID, question string) (*chat_engine.Answer, error)
	History(ctx context.Context, id, ownerID string) ([]models.ChatTurn, error)
}

var (
	// documentService and waitIngestion are set by setup, or by tests.
	documentService DocumentService
	waitIngestion   = func() {}

	application *app.App
	ownerID     string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:           "docchat",
	Short:         "Chat with your documents",
	Long:          `Upload PDF, DOCX or TXT files, index them and ask questions answered from their content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "local", "Owner id that scopes documents and chats")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
}

func setup(ctx context.Context) error {
	if documentService != nil {
		return nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(level, "console")
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	application = a
	documentService = a.Documents
	waitIngestion = a.Dispatcher.Wait
	return nil
}

// Execute runs the root command and releases the application afterwards.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if application != nil {
		if cerr := application.Close(); cerr != nil {
			application.Log.Warn("shutdown", zap.Error(cerr))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rootCmd.PrintErrln("Error:", err)
		return 1
	}
	return 0
}
