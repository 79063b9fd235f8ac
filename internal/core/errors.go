package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure. It is set where the failure happens and never
// derived from error text.
type Kind string

const (
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindFileTooLarge        Kind = "file_too_large"
	KindEmptyFile           Kind = "empty_file"
	KindExtractionFailed    Kind = "extraction_failed"
	KindEmptyContent        Kind = "empty_content"
	KindEmbedding           Kind = "embedding_service_error"
	KindVectorStore         Kind = "vector_store_error"
	KindGeneration          Kind = "generation_failed"
	KindDocumentNotReady    Kind = "document_not_ready"
	KindTimeout             Kind = "timeout"
	KindNotFound            Kind = "not_found"
	KindIngestionInProgress Kind = "ingestion_in_progress"
	KindStorage             Kind = "storage_error"
	KindInternal            Kind = "internal"
)

// Error is the tagged error used across the pipeline.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// FailedBatches lists the batch indices that failed in a batched upstream call.
	FailedBatches []int
}

// E builds a tagged error. err may be nil.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if len(e.FailedBatches) > 0 {
		fmt.Fprintf(&b, " (failed batches %v)", e.FailedBatches)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost tagged error in the chain.
// Deadline errors map to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal && errors.Is(e.Err, context.DeadlineExceeded) {
			return KindTimeout
		}
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FailedBatchesOf returns the failed batch indices recorded on err, if any.
func FailedBatchesOf(err error) []int {
	var e *Error
	if errors.As(err, &e) {
		return e.FailedBatches
	}
	return nil
}

// IsRetryable reports whether re-invoking the same operation can succeed
// without the user changing the file.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindEmbedding, KindVectorStore, KindGeneration, KindTimeout, KindStorage, KindInternal:
		return true
	}
	return false
}

var userMessages = map[Kind]string{
	KindUnsupportedFormat:   "Unsupported file type. Please upload a PDF, DOCX or TXT file.",
	KindFileTooLarge:        "The file is too large to process.",
	KindEmptyFile:           "The file is empty.",
	KindExtractionFailed:    "We could not read text from this file. Please check the file and upload it again.",
	KindEmptyContent:        "The document does not contain enough text to process.",
	KindEmbedding:           "The embedding service is unavailable. Please retry processing.",
	KindVectorStore:         "The search index is unavailable. Please retry processing.",
	KindGeneration:          "The answer could not be generated. Please try again.",
	KindDocumentNotReady:    "The document is still being processed.",
	KindTimeout:             "Processing took too long. Please retry processing.",
	KindNotFound:            "Document not found.",
	KindIngestionInProgress: "The document is already being processed.",
	KindStorage:             "The stored file could not be accessed. Please retry processing.",
	KindInternal:            "Something went wrong while processing the document.",
}

// UserMessage returns the user-facing message for err's kind.
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return userMessages[KindInternal]
}
