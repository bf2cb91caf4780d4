package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tg-audio-transcriber/internal/domain"
)

// Ledger решает, обработано ли сообщение, и выдаёт порядковые номера.
// Экземпляр создаётся на запуск и владеет состоянием каналов.
type Ledger struct {
	store domain.LedgerStore
	now   func() time.Time

	mu sync.Mutex
}

// NewLedger создаёт журнал поверх хранилища.
func NewLedger(store domain.LedgerStore) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// HasBeenSeen сообщает, получил ли messageID окончательный итог.
func (l *Ledger) HasBeenSeen(ctx context.Context, channelID string, messageID int64) (bool, error) {
	var seen bool
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		_, ok, err := tx.Seen(channelID, messageID)
		seen = ok
		return err
	})
	if err != nil {
		return false, fmt.Errorf("проверка сообщения %d: %w", messageID, err)
	}
	return seen, nil
}

// IsDuplicateContent сообщает, известен ли отпечаток в канале.
func (l *Ledger) IsDuplicateContent(ctx context.Context, channelID, fingerprint string) (bool, error) {
	var known bool
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		_, ok, err := tx.FingerprintOwner(channelID, fingerprint)
		known = ok
		return err
	})
	if err != nil {
		return false, fmt.Errorf("проверка отпечатка: %w", err)
	}
	return known, nil
}

// CheckAndAllocate атомарно проверяет отпечаток и выдаёт номер.
// Повторный вызов для того же сообщения возвращает ранее выданный номер.
func (l *Ledger) CheckAndAllocate(ctx context.Context, channelID string, msg domain.AudioMessage, originalName, fingerprint string) (domain.Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var alloc domain.Allocation
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		// Номер, однажды выданный сообщению, остаётся за ним.
		if pending, ok, err := tx.Pending(channelID, msg.ID); err != nil {
			return err
		} else if ok {
			alloc = domain.Allocation{Ordinal: pending.Ordinal, Pending: pending}
			return nil
		}

		owner, known, err := tx.FingerprintOwner(channelID, fingerprint)
		if err != nil {
			return err
		}
		if known && owner != msg.ID {
			alloc = domain.Allocation{Duplicate: true, Owner: owner}
			return nil
		}

		state, _, err := tx.State(channelID)
		if err != nil {
			return err
		}
		state = normalizeState(state, channelID)

		pending := domain.IngestedFile{
			MessageID:    msg.ID,
			Ordinal:      state.NextOrdinal,
			OriginalName: originalName,
			Fingerprint:  fingerprint,
			Stage:        domain.StageAllocated,
			CapturedAt:   msg.CapturedAt,
			UpdatedAt:    l.now(),
		}
		state.NextOrdinal++
		state.UpdatedAt = l.now()

		if err := tx.PutState(state); err != nil {
			return err
		}
		if err := tx.PutFingerprint(channelID, fingerprint, msg.ID); err != nil {
			return err
		}
		if err := tx.PutPending(channelID, pending); err != nil {
			return err
		}
		alloc = domain.Allocation{Ordinal: pending.Ordinal, Pending: pending}
		return nil
	})
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("выдача номера для сообщения %d: %w", msg.ID, err)
	}
	return alloc, nil
}

// RecordSeen фиксирует окончательный итог сообщения. Повторный вызов ничего не меняет.
func (l *Ledger) RecordSeen(ctx context.Context, channelID string, rec domain.SeenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		if _, ok, err := tx.Seen(channelID, rec.MessageID); err != nil || ok {
			return err
		}
		if rec.RecordedAt.IsZero() {
			rec.RecordedAt = l.now()
		}
		if err := tx.PutSeen(channelID, rec); err != nil {
			return err
		}
		if rec.Fingerprint != "" {
			if _, known, err := tx.FingerprintOwner(channelID, rec.Fingerprint); err != nil {
				return err
			} else if !known {
				if err := tx.PutFingerprint(channelID, rec.Fingerprint, rec.MessageID); err != nil {
					return err
				}
			}
		}
		return tx.DeletePending(channelID, rec.MessageID)
	})
	if err != nil {
		return fmt.Errorf("запись итога сообщения %d: %w", rec.MessageID, err)
	}
	return nil
}

// Pending возвращает незавершённую запись сообщения.
func (l *Ledger) Pending(ctx context.Context, channelID string, messageID int64) (domain.IngestedFile, bool, error) {
	var (
		file domain.IngestedFile
		ok   bool
	)
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		file, ok, err = tx.Pending(channelID, messageID)
		return err
	})
	if err != nil {
		return domain.IngestedFile{}, false, fmt.Errorf("чтение незавершённого сообщения %d: %w", messageID, err)
	}
	return file, ok, nil
}

// SavePending обновляет этап незавершённого сообщения.
func (l *Ledger) SavePending(ctx context.Context, channelID string, file domain.IngestedFile) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file.UpdatedAt = l.now()
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.PutPending(channelID, file)
	})
	if err != nil {
		return fmt.Errorf("сохранение этапа %s сообщения %d: %w", file.Stage, file.MessageID, err)
	}
	return nil
}

// ListPending возвращает незавершённые сообщения в порядке id.
func (l *Ledger) ListPending(ctx context.Context, channelID string) ([]domain.IngestedFile, error) {
	var files []domain.IngestedFile
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		files, err = tx.ListPending(channelID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("список незавершённых сообщений: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].MessageID < files[j].MessageID })
	return files, nil
}

// State возвращает состояние канала. Для нового канала NextOrdinal равен 1.
func (l *Ledger) State(ctx context.Context, channelID string) (domain.ChannelState, error) {
	var state domain.ChannelState
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		state, _, err = tx.State(channelID)
		return err
	})
	if err != nil {
		return domain.ChannelState{}, fmt.Errorf("состояние канала %s: %w", channelID, err)
	}
	return normalizeState(state, channelID), nil
}

// Counts возвращает число принятых файлов и дубликатов.
func (l *Ledger) Counts(ctx context.Context, channelID string) (ingested, duplicates int, err error) {
	err = l.store.View(ctx, func(tx domain.LedgerTx) error {
		var txErr error
		ingested, duplicates, txErr = tx.CountSeen(channelID)
		return txErr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("подсчёт итогов канала %s: %w", channelID, err)
	}
	return ingested, duplicates, nil
}

// RememberDisplayName сохраняет отображаемое имя канала, не трогая номера.
func (l *Ledger) RememberDisplayName(ctx context.Context, channelID, displayName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		state, _, err := tx.State(channelID)
		if err != nil {
			return err
		}
		state = normalizeState(state, channelID)
		if state.DisplayName == displayName {
			return nil
		}
		state.DisplayName = displayName
		state.UpdatedAt = l.now()
		return tx.PutState(state)
	})
	if err != nil {
		return fmt.Errorf("сохранение имени канала: %w", err)
	}
	return nil
}

// AdvanceCursor сдвигает курсор вперёд. Курсор не уменьшается.
func (l *Ledger) AdvanceCursor(ctx context.Context, channelID string, cursor int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		state, _, err := tx.State(channelID)
		if err != nil {
			return err
		}
		state = normalizeState(state, channelID)
		if cursor <= state.Cursor {
			return nil
		}
		state.Cursor = cursor
		state.UpdatedAt = l.now()
		return tx.PutState(state)
	})
	if err != nil {
		return fmt.Errorf("сдвиг курсора канала %s: %w", channelID, err)
	}
	return nil
}

func normalizeState(state domain.ChannelState, channelID string) domain.ChannelState {
	state.ChannelID = channelID
	if state.NextOrdinal < 1 {
		state.NextOrdinal = 1
	}
	return state
}
