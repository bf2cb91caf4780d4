package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog. Если logFile задан, записи дублируются в файл.
// Возвращаемая функция закрывает файл.
func NewLogger(appEnv, logFile string) (zerolog.Logger, func() error, error) {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	closer := func() error { return nil }
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return zerolog.Nop(), closer, fmt.Errorf("каталог журнала: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("файл журнала: %w", err)
		}
		out = zerolog.MultiLevelWriter(os.Stdout, f)
		closer = f.Close
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	return logger, closer, nil
}
