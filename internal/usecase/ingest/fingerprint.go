package ingest

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"tg-audio-transcriber/internal/domain"
)

const fingerprintPrefix = "xxh64:"

// Fingerprinter считает отпечаток содержимого файла.
type Fingerprinter struct{}

// NewFingerprinter создаёт вычислитель отпечатков.
func NewFingerprinter() Fingerprinter {
	return Fingerprinter{}
}

// Hasher возвращает потоковый хешер для записи во время загрузки.
func (Fingerprinter) Hasher() hash.Hash {
	return xxhash.New()
}

// Format приводит сумму хешера к строковому отпечатку.
func (Fingerprinter) Format(h hash.Hash) string {
	return fingerprintPrefix + hex.EncodeToString(h.Sum(nil))
}

// Sum читает r до конца и возвращает отпечаток.
func (f Fingerprinter) Sum(r io.Reader) (string, error) {
	h := f.Hasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", domain.NewStageError(domain.StageDownloaded, domain.ErrIO, fmt.Errorf("чтение содержимого: %w", err))
	}
	return f.Format(h), nil
}

// SumFile считает отпечаток файла на диске.
func (f Fingerprinter) SumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", domain.NewStageError(domain.StageDownloaded, domain.ErrIO, fmt.Errorf("открытие %s: %w", path, err))
	}
	defer file.Close()
	return f.Sum(file)
}
