package ingestion_engine

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/models"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
// Extraction is strict: input that cannot be parsed is an error, never
// placeholder text.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) Extract(ctx context.Context, raw []byte, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch models.FormatOf(fileName) {
	case models.FormatTXT:
		text = decodeText(raw)
	case models.FormatPDF:
		text, _, err = docconv.ConvertPDF(bytes.NewReader(raw))
		// pdftotext separates pages with form feeds.
		text = strings.ReplaceAll(text, "\f", "\n\n")
	case models.FormatDOCX:
		text, _, err = docconv.ConvertDocx(bytes.NewReader(raw))
	default:
		return "", core.Errorf(core.KindExtractionFailed, "extract", "no parser for %q", fileName)
	}
	if err != nil {
		return "", core.E(core.KindExtractionFailed, "extract", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}

// decodeText reads raw bytes as UTF-8, dropping a byte order mark and any
// invalid sequences.
func decodeText(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "")
}
