package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tg-audio-transcriber/internal/adapters/mtproto"
)

// NewImportSessionCmd конвертирует сессию Telethon в формат gotd.
func NewImportSessionCmd() *cobra.Command {
	var (
		filePath string
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "import-session",
		Short: "Импорт MTProto сессии (Telethon или gotd JSON)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filePath == "" {
				return &ExitError{Code: ExitNotStarted, Err: fmt.Errorf("import-session: нужен путь к файлу сессии (--file)")}
			}
			raw, err := os.ReadFile(filePath)
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: fmt.Errorf("import-session: чтение файла: %w", err)}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			converted, err := mtproto.ImportSession(ctx, raw, outPath)
			if err != nil {
				return &ExitError{Code: ExitNotStarted, Err: fmt.Errorf("import-session: %w", err)}
			}

			out := cmd.OutOrStdout()
			if converted {
				fmt.Fprintln(out, "Сессия преобразована в формат gotd")
			}
			fmt.Fprintf(out, "Сессия сохранена в %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "файл сессии Telethon (строка, JSON аккаунта или выгрузка sessions)")
	cmd.Flags().StringVar(&outPath, "out", "./data/session.json", "куда сохранить сессию gotd (MTPROTO_SESSION_FILE)")
	return cmd
}
