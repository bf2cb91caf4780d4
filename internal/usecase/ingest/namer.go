package ingest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	defaultExtension = ".mp3"
	defaultStem      = "audio"
)

var unsafeChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// CleanName заменяет недопустимые в именах файлов символы на "_".
func CleanName(name string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, cleaned)
}

// FallbackName возвращает имя файла для сообщения без имени.
func FallbackName(messageID int64) string {
	return fmt.Sprintf("audio_%d%s", messageID, defaultExtension)
}

// NextName строит каноничное имя файла:
// {канал}_{номер, минимум 3 цифры}_{имя без расширения}_{ГГГГММДД}.{расширение}.
func NextName(displayName string, ordinal int, originalName string, captured time.Time) string {
	ext := filepath.Ext(originalName)
	stem := strings.TrimSuffix(originalName, ext)
	if ext == "" || ext == "." {
		ext = defaultExtension
	}
	stem = CleanName(stem)
	if stem == "" {
		stem = defaultStem
	}
	return fmt.Sprintf("%s_%03d_%s_%s%s",
		CleanName(displayName),
		ordinal,
		stem,
		captured.UTC().Format("20060102"),
		CleanName(ext),
	)
}
