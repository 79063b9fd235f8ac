package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusError      DocumentStatus = "error"
)

// Terminal reports whether no further transition happens without an explicit retry.
func (s DocumentStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusError
}

// DocumentFormat is derived from the file extension at upload time.
type DocumentFormat string

const (
	FormatPDF         DocumentFormat = "pdf"
	FormatDOCX        DocumentFormat = "docx"
	FormatTXT         DocumentFormat = "txt"
	FormatUnsupported DocumentFormat = "unsupported"
)

// FormatOf maps a file name to its document format.
func FormatOf(fileName string) DocumentFormat {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")) {
	case "pdf":
		return FormatPDF
	case "docx":
		return FormatDOCX
	case "txt":
		return FormatTXT
	default:
		return FormatUnsupported
	}
}

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one uploaded file and its ingestion state.
type Document struct {
	ID           string         `db:"id" json:"id"`
	OwnerID      string         `db:"owner_id" json:"owner_id"`
	FileName     string         `db:"file_name" json:"file_name"`
	StorageKey   string         `db:"storage_key" json:"storage_key"`
	StorageURL   string         `db:"storage_url" json:"storage_url"`
	ContentType  string         `db:"content_type" json:"content_type"`
	SizeBytes    int64          `db:"size_bytes" json:"size_bytes"`
	Format       DocumentFormat `db:"format" json:"format"`
	Status       DocumentStatus `db:"status" json:"status"`
	ChunkCount   int            `db:"chunk_count" json:"chunk_count"` // authoritative only when processed
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// StatusUpdate carries a status transition plus the fields that travel with it.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status       DocumentStatus
	ChunkCount   *int
	ErrorMessage *string
}

// TurnMetadata is stored alongside every chat turn.
type TurnMetadata struct {
	ChunksUsed int    `json:"chunks_used"`
	Model      string `json:"model,omitempty"`
	IsFallback bool   `json:"is_fallback"`
}

// ChatTurn is one question/answer exchange against a document. Never mutated.
type ChatTurn struct {
	ID                string       `db:"id" json:"id"`
	DocumentID        string       `db:"document_id" json:"document_id"`
	OwnerID           string       `db:"owner_id" json:"owner_id"`
	UserMessage       string       `db:"user_message" json:"user_message"`
	AssistantResponse string       `db:"assistant_response" json:"assistant_response"`
	Metadata          TurnMetadata `db:"metadata" json:"metadata"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}
