package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Коды завершения.
const (
	ExitOK            = 0
	ExitMessageFailed = 1
	ExitNotStarted    = 2
)

// ExitError переносит код завершения до main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode возвращает код завершения для ошибки Execute.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitNotStarted
}

type rootOptions struct {
	envFile string
}

// NewRootCmd создаёт корневую команду transcriber.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "transcriber",
		Short:         "Транскрибация аудио из Telegram канала",
		Long:          "Скачивает аудио из канала, присваивает порядковые имена, отправляет на распознавание и дописывает расшифровки в документ канала.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "файл с переменными окружения")

	rootCmd.AddCommand(NewRunCmd(opts))
	rootCmd.AddCommand(NewStatusCmd(opts))
	rootCmd.AddCommand(NewImportSessionCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
