package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tg-audio-transcriber/internal/domain"
)

// Cache хранит расшифровки в TRANSCRIPT_BACKUP_DIR как {каноничное имя}.txt.
type Cache struct {
	dir string
}

var _ domain.TranscriptCache = (*Cache)(nil)

// NewCache создаёт кэш в каталоге dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Save записывает текст через временный файл и переименование.
func (c *Cache) Save(_ context.Context, name, text string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: каталог %s: %w", c.dir, err)
	}
	path := filepath.Join(c.dir, name+".txt")
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("backup: временный файл: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return "", fmt.Errorf("backup: запись %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("backup: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("backup: закрытие %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("backup: переименование в %s: %w", path, err)
	}
	return path, nil
}

// Load читает сохранённую расшифровку.
func (c *Cache) Load(_ context.Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("backup: путь к расшифровке не задан")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("backup: чтение %s: %w", path, err)
	}
	return string(data), nil
}
