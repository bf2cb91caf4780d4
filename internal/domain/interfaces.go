package domain

import (
	"context"
	"io"
)

// ChannelSource выгружает аудиосообщения канала.
type ChannelSource interface {
	ResolveChannel(ctx context.Context, ref string) (ChannelMeta, error)
	// ListNewAudioMessages возвращает аудиосообщения с id больше sinceCursor
	// в порядке возрастания id.
	ListNewAudioMessages(ctx context.Context, ref string, sinceCursor int64) ([]AudioMessage, error)
	FetchAudio(ctx context.Context, msg AudioMessage, w io.Writer) (int64, error)
	Close() error
}

// TranscriptionService превращает аудиофайл в текст.
type TranscriptionService interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (string, error)
}

// DocumentSink дописывает расшифровки в документ канала.
type DocumentSink interface {
	EnsureDocument(ctx context.Context, displayName string) (DocumentHandle, error)
	AppendSection(ctx context.Context, doc DocumentHandle, header SectionHeader, body string) error
}

// TranscriptCache хранит уже полученные расшифровки на локальном диске.
type TranscriptCache interface {
	Save(ctx context.Context, name, text string) (string, error)
	Load(ctx context.Context, path string) (string, error)
}

// Archiver сохраняет принятый аудиофайл во внешнем хранилище.
type Archiver interface {
	Archive(ctx context.Context, channel, localPath string) error
}

// LedgerTx описывает операции журнала внутри одной транзакции хранилища.
type LedgerTx interface {
	State(channelID string) (ChannelState, bool, error)
	PutState(state ChannelState) error
	Seen(channelID string, messageID int64) (SeenRecord, bool, error)
	PutSeen(channelID string, rec SeenRecord) error
	FingerprintOwner(channelID, fingerprint string) (int64, bool, error)
	PutFingerprint(channelID, fingerprint string, messageID int64) error
	Pending(channelID string, messageID int64) (IngestedFile, bool, error)
	PutPending(channelID string, file IngestedFile) error
	DeletePending(channelID string, messageID int64) error
	ListPending(channelID string) ([]IngestedFile, error)
	CountSeen(channelID string) (ingested, duplicates int, err error)
}

// LedgerStore хранит журнал обработки между запусками.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	Close() error
}
