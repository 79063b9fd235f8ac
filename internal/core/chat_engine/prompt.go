package chat_engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/models"
)

const (
	maxHistoryTurns = 6
	maxHistoryRunes = 300
)

func systemPrompt(doc *models.Document, matches []core.VectorMatch, prior []models.ChatTurn) string {
	var b strings.Builder
	b.WriteString("You are an assistant that answers questions about a single document using only the excerpts below.\n")
	b.WriteString("If the excerpts do not contain the answer, say that you cannot find it in the document.\n\n")

	fmt.Fprintf(&b, "Document: %s\nFormat: %s\nSections indexed: %d\n\n", doc.FileName, doc.Format, doc.ChunkCount)

	b.WriteString("Excerpts (most relevant first):\n")
	if len(matches) == 0 {
		b.WriteString("(no matching excerpts)\n")
	}
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(m.Text))
	}

	if h := compactHistory(prior); h != "" {
		b.WriteString("\nEarlier conversation:\n")
		b.WriteString(h)
	}
	return b.String()
}

func fallbackPrompt(doc *models.Document) string {
	return fmt.Sprintf(
		"You are an assistant helping a user with the document %q. The document text is not available right now. "+
			"Answer from general knowledge if you can and say clearly that the answer is not based on the document.",
		doc.FileName)
}

// compactHistory keeps the most recent turns, each side truncated.
func compactHistory(prior []models.ChatTurn) string {
	if len(prior) > maxHistoryTurns {
		prior = prior[len(prior)-maxHistoryTurns:]
	}
	var b strings.Builder
	for _, t := range prior {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", clip(t.UserMessage), clip(t.AssistantResponse))
	}
	return b.String()
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxHistoryRunes {
		return s
	}
	return string([]rune(s)[:maxHistoryRunes]) + "…"
}
