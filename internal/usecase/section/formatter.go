package section

import (
	"fmt"
	"strings"

	"tg-audio-transcriber/internal/domain"
)

// Separator отделяет разделы документа друг от друга.
var Separator = strings.Repeat("=", 80)

// Title возвращает название документа канала.
func Title(displayName string) string {
	return strings.TrimSpace(displayName) + " Transcriptions"
}

// Heading возвращает заголовок раздела.
func Heading(h domain.SectionHeader) string {
	return fmt.Sprintf("## %s ##", h.CanonicalName)
}

// Meta возвращает строку метаданных файла.
func Meta(h domain.SectionHeader) string {
	parts := []string{fmt.Sprintf("Message: %d", h.MessageID)}
	if !h.CapturedAt.IsZero() {
		parts = append(parts, "Date: "+h.CapturedAt.UTC().Format("2006-01-02"))
	}
	if name := strings.TrimSpace(h.OriginalName); name != "" {
		parts = append(parts, "Original: "+name)
	}
	if h.Ordinal > 0 {
		parts = append(parts, fmt.Sprintf("Ordinal: %d", h.Ordinal))
	}
	return strings.Join(parts, " · ")
}

// Format собирает раздел: заголовок, метаданные, текст расшифровки и разделитель.
func Format(h domain.SectionHeader, body string) string {
	var b strings.Builder
	b.WriteString(Heading(h))
	b.WriteString("\n")
	b.WriteString(Meta(h))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n")
	b.WriteString(Separator)
	b.WriteString("\n\n")
	return b.String()
}
