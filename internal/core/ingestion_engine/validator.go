package ingestion_engine

import (
	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/models"
)

// DefaultMaxUploadBytes is the processing-path upload ceiling.
const DefaultMaxUploadBytes int64 = 10 << 20

// Validate checks a file before any storage or network I/O happens.
// maxBytes <= 0 falls back to DefaultMaxUploadBytes.
func Validate(fileName string, sizeBytes, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if models.FormatOf(fileName) == models.FormatUnsupported {
		return core.Errorf(core.KindUnsupportedFormat, "validate", "unsupported file type: %q", fileName)
	}
	if sizeBytes <= 0 {
		return core.Errorf(core.KindEmptyFile, "validate", "%q is empty", fileName)
	}
	if sizeBytes > maxBytes {
		return core.Errorf(core.KindFileTooLarge, "validate", "%q is %d bytes, limit is %d", fileName, sizeBytes, maxBytes)
	}
	return nil
}
