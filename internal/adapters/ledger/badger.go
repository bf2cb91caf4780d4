package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"tg-audio-transcriber/internal/domain"
)

// Store хранит журнал обработки в badger.
type Store struct {
	db *badger.DB
}

var _ domain.LedgerStore = (*Store)(nil)

// Open открывает или создаёт журнал в каталоге dir.
func Open(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: создание каталога %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: logger.With().Str("component", "badger").Logger()})
	return open(opts)
}

// OpenInMemory открывает журнал без записи на диск.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: открытие badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Update выполняет fn в транзакции на запись. Изменения применяются целиком или не применяются.
func (s *Store) Update(ctx context.Context, fn func(domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(tx{txn: txn})
	})
}

// View выполняет fn в транзакции на чтение.
func (s *Store) View(ctx context.Context, fn func(domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(tx{txn: txn})
	})
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

func channelPrefix(channelID string) string {
	return "ch/" + channelID + "/"
}

func stateKey(channelID string) []byte {
	return []byte(channelPrefix(channelID) + "state")
}

func seenPrefix(channelID string) []byte {
	return []byte(channelPrefix(channelID) + "msg/")
}

func seenKey(channelID string, messageID int64) []byte {
	return append(seenPrefix(channelID), idKey(messageID)...)
}

func fingerprintKey(channelID, fingerprint string) []byte {
	return []byte(channelPrefix(channelID) + "fp/" + fingerprint)
}

func pendingPrefix(channelID string) []byte {
	return []byte(channelPrefix(channelID) + "pending/")
}

func pendingKey(channelID string, messageID int64) []byte {
	return append(pendingPrefix(channelID), idKey(messageID)...)
}

// idKey дополняет id нулями, чтобы ключи шли в порядке возрастания.
func idKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

type tx struct {
	txn *badger.Txn
}

func (t tx) getJSON(key []byte, dst any) (bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: чтение %s: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
	if err != nil {
		return false, fmt.Errorf("ledger: разбор %s: %w", key, err)
	}
	return true, nil
}

func (t tx) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger: сериализация %s: %w", key, err)
	}
	if err := t.txn.Set(key, data); err != nil {
		return fmt.Errorf("ledger: запись %s: %w", key, err)
	}
	return nil
}

func (t tx) State(channelID string) (domain.ChannelState, bool, error) {
	var state domain.ChannelState
	ok, err := t.getJSON(stateKey(channelID), &state)
	return state, ok, err
}

func (t tx) PutState(state domain.ChannelState) error {
	if state.ChannelID == "" {
		return errors.New("ledger: пустой id канала")
	}
	return t.setJSON(stateKey(state.ChannelID), state)
}

func (t tx) Seen(channelID string, messageID int64) (domain.SeenRecord, bool, error) {
	var rec domain.SeenRecord
	ok, err := t.getJSON(seenKey(channelID, messageID), &rec)
	return rec, ok, err
}

func (t tx) PutSeen(channelID string, rec domain.SeenRecord) error {
	return t.setJSON(seenKey(channelID, rec.MessageID), rec)
}

func (t tx) FingerprintOwner(channelID, fingerprint string) (int64, bool, error) {
	item, err := t.txn.Get(fingerprintKey(channelID, fingerprint))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ledger: чтение отпечатка: %w", err)
	}
	var owner int64
	err = item.Value(func(val []byte) error {
		var perr error
		owner, perr = strconv.ParseInt(string(val), 10, 64)
		return perr
	})
	if err != nil {
		return 0, false, fmt.Errorf("ledger: разбор отпечатка: %w", err)
	}
	return owner, true, nil
}

func (t tx) PutFingerprint(channelID, fingerprint string, messageID int64) error {
	if err := t.txn.Set(fingerprintKey(channelID, fingerprint), []byte(strconv.FormatInt(messageID, 10))); err != nil {
		return fmt.Errorf("ledger: запись отпечатка: %w", err)
	}
	return nil
}

func (t tx) Pending(channelID string, messageID int64) (domain.IngestedFile, bool, error) {
	var file domain.IngestedFile
	ok, err := t.getJSON(pendingKey(channelID, messageID), &file)
	return file, ok, err
}

func (t tx) PutPending(channelID string, file domain.IngestedFile) error {
	return t.setJSON(pendingKey(channelID, file.MessageID), file)
}

func (t tx) DeletePending(channelID string, messageID int64) error {
	if err := t.txn.Delete(pendingKey(channelID, messageID)); err != nil {
		return fmt.Errorf("ledger: удаление незавершённого сообщения %d: %w", messageID, err)
	}
	return nil
}

func (t tx) ListPending(channelID string) ([]domain.IngestedFile, error) {
	var files []domain.IngestedFile
	err := t.scan(pendingPrefix(channelID), func(val []byte) error {
		var file domain.IngestedFile
		if err := json.Unmarshal(val, &file); err != nil {
			return err
		}
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: список незавершённых сообщений: %w", err)
	}
	return files, nil
}

func (t tx) CountSeen(channelID string) (ingested, duplicates int, err error) {
	err = t.scan(seenPrefix(channelID), func(val []byte) error {
		var rec domain.SeenRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		switch rec.Outcome {
		case domain.OutcomeIngested:
			ingested++
		case domain.OutcomeDuplicate:
			duplicates++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: подсчёт итогов: %w", err)
	}
	return ingested, duplicates, nil
}

func (t tx) scan(prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger направляет журнал badger в zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(format, args...)
}
