package core

import "context"

// DocumentExtractor defines the interface for extracting text from various document types.
// The file name selects the parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, raw []byte, fileName string) (string, error)
}
