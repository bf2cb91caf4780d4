package domain

import "time"

// ChannelMeta содержит метаданные канала, полученные от источника.
type ChannelMeta struct {
	ID    int64
	Alias string
	Title string
}

// ChannelState хранит изменяемое состояние канала между запусками.
type ChannelState struct {
	ChannelID   string `json:"channel_id"`
	DisplayName string `json:"display_name"`
	// NextOrdinal начинается с 1 и никогда не уменьшается.
	NextOrdinal int `json:"next_ordinal"`
	// Cursor: все сообщения с id не больше курсора уже учтены.
	Cursor    int64     `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AudioMessage описывает сообщение канала с аудиофайлом.
type AudioMessage struct {
	ID         int64
	ChannelID  string
	FileName   string
	MimeType   string
	Size       int64
	CapturedAt time.Time
}

// Outcome описывает итог обработки сообщения.
type Outcome string

const (
	// Файл принят в последовательность.
	OutcomeIngested Outcome = "ingested"
	// Содержимое уже встречалось в канале.
	OutcomeDuplicate Outcome = "duplicate"
)

// SeenRecord фиксирует окончательный итог обработки сообщения.
type SeenRecord struct {
	MessageID     int64     `json:"message_id"`
	Fingerprint   string    `json:"fingerprint"`
	Outcome       Outcome   `json:"outcome"`
	Ordinal       int       `json:"ordinal,omitempty"`
	CanonicalName string    `json:"canonical_name,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Stage обозначает этап обработки сообщения.
type Stage string

const (
	StageDiscovered  Stage = "discovered"
	StageDownloaded  Stage = "downloaded"
	StageAllocated   Stage = "allocated"
	StageRenamed     Stage = "renamed"
	StageTranscribed Stage = "transcribed"
	StageAppended    Stage = "appended"
	StageRecorded    Stage = "recorded"
	StageListing     Stage = "listing"
)

// IngestedFile описывает принятый файл, пока сообщение не отмечено в журнале.
type IngestedFile struct {
	MessageID      int64     `json:"message_id"`
	Ordinal        int       `json:"ordinal"`
	OriginalName   string    `json:"original_name"`
	CanonicalName  string    `json:"canonical_name,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	LocalPath      string    `json:"local_path,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	Stage          Stage     `json:"stage"`
	CapturedAt     time.Time `json:"captured_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Transcript не сохраняется в журнале, текст лежит в TranscriptPath.
	Transcript string `json:"-"`
}

// Allocation возвращается атомарной проверкой на дубликат и выдачей номера.
type Allocation struct {
	Duplicate bool
	// Owner указывает сообщение-владельца отпечатка, если это дубликат.
	Owner   int64
	Ordinal int
	Pending IngestedFile
}

// SectionHeader содержит метаданные раздела документа.
type SectionHeader struct {
	CanonicalName string
	OriginalName  string
	MessageID     int64
	Ordinal       int
	CapturedAt    time.Time
}

// DocumentHandle идентифицирует документ канала.
type DocumentHandle struct {
	ID    string
	Title string
}

// RunSummary содержит счётчики одного запуска.
type RunSummary struct {
	RunID       string
	Listed      int
	Skipped     int
	Resumed     int
	Ingested    int
	Duplicates  int
	Failed      int
	// Interrupted считает сообщения из списка, до которых запуск не дошёл из-за отмены.
	Interrupted int
}
