package domain

import (
	"errors"
	"fmt"
)

// Виды ошибок конвейера.
var (
	// Не удалось получить список сообщений, запуск прерывается.
	ErrListing = errors.New("listing failed")
	// Сеть или права доступа, сообщение повторится при следующем запуске.
	ErrDownload = errors.New("download failed")
	// Ошибка сервиса распознавания или пустой результат.
	ErrTranscription = errors.New("transcription failed")
	// Не удалось дописать документ, расшифровка остаётся в кэше.
	ErrDocumentAppend = errors.New("document append failed")
	// Ошибка локального диска.
	ErrIO = errors.New("local io failed")
)

// StageError связывает ошибку с этапом и видом.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

// NewStageError оборачивает err видом kind на этапе stage.
func NewStageError(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap позволяет errors.Is сравнивать и с видом, и с причиной.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StageOf возвращает этап, на котором произошла ошибка.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
