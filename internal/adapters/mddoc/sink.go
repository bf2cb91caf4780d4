package mddoc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tg-audio-transcriber/internal/domain"
	"tg-audio-transcriber/internal/usecase/section"
)

// Sink дописывает расшифровки в локальный markdown файл канала.
type Sink struct {
	dir string
}

var _ domain.DocumentSink = (*Sink)(nil)

// NewSink создаёт sink в каталоге dir.
func NewSink(dir string) *Sink {
	return &Sink{dir: dir}
}

// EnsureDocument создаёт «{канал} Transcriptions.md» с заголовком, если файла нет.
func (s *Sink) EnsureDocument(_ context.Context, displayName string) (domain.DocumentHandle, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.DocumentHandle{}, fmt.Errorf("mddoc: каталог %s: %w", s.dir, err)
	}
	title := section.Title(displayName)
	path := filepath.Join(s.dir, title+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case err == nil:
		_, werr := fmt.Fprintf(f, "# %s\n\n", title)
		cerr := f.Close()
		if werr != nil {
			return domain.DocumentHandle{}, fmt.Errorf("mddoc: заголовок: %w", werr)
		}
		if cerr != nil {
			return domain.DocumentHandle{}, fmt.Errorf("mddoc: заголовок: %w", cerr)
		}
	case os.IsExist(err):
	default:
		return domain.DocumentHandle{}, fmt.Errorf("mddoc: создание %s: %w", path, err)
	}
	return domain.DocumentHandle{ID: path, Title: title}, nil
}

// AppendSection дописывает раздел в конец файла и синхронизирует его на диск.
func (s *Sink) AppendSection(_ context.Context, doc domain.DocumentHandle, header domain.SectionHeader, body string) error {
	f, err := os.OpenFile(doc.ID, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mddoc: открытие %s: %w", doc.ID, err)
	}
	defer f.Close()
	if _, err := f.WriteString(section.Format(header, body)); err != nil {
		return fmt.Errorf("mddoc: запись раздела %s: %w", header.CanonicalName, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("mddoc: sync: %w", err)
	}
	return nil
}
