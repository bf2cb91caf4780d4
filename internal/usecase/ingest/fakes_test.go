package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"tg-audio-transcriber/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]domain.ChannelState
	seen    map[string]map[int64]domain.SeenRecord
	fps     map[string]map[string]int64
	pending map[string]map[int64]domain.IngestedFile
}

func newMemStore() *memStore {
	return &memStore{
		states:  map[string]domain.ChannelState{},
		seen:    map[string]map[int64]domain.SeenRecord{},
		fps:     map[string]map[string]int64{},
		pending: map[string]map[int64]domain.IngestedFile{},
	}
}

func (m *memStore) Update(_ context.Context, fn func(domain.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m})
}

func (m *memStore) View(_ context.Context, fn func(domain.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m})
}

func (m *memStore) Close() error { return nil }

type memTx struct{ m *memStore }

func (t memTx) State(ch string) (domain.ChannelState, bool, error) {
	s, ok := t.m.states[ch]
	return s, ok, nil
}

func (t memTx) PutState(s domain.ChannelState) error {
	t.m.states[s.ChannelID] = s
	return nil
}

func (t memTx) Seen(ch string, id int64) (domain.SeenRecord, bool, error) {
	r, ok := t.m.seen[ch][id]
	return r, ok, nil
}

func (t memTx) PutSeen(ch string, rec domain.SeenRecord) error {
	if t.m.seen[ch] == nil {
		t.m.seen[ch] = map[int64]domain.SeenRecord{}
	}
	t.m.seen[ch][rec.MessageID] = rec
	return nil
}

func (t memTx) FingerprintOwner(ch, fp string) (int64, bool, error) {
	id, ok := t.m.fps[ch][fp]
	return id, ok, nil
}

func (t memTx) PutFingerprint(ch, fp string, id int64) error {
	if t.m.fps[ch] == nil {
		t.m.fps[ch] = map[string]int64{}
	}
	t.m.fps[ch][fp] = id
	return nil
}

func (t memTx) Pending(ch string, id int64) (domain.IngestedFile, bool, error) {
	f, ok := t.m.pending[ch][id]
	return f, ok, nil
}

func (t memTx) PutPending(ch string, f domain.IngestedFile) error {
	if t.m.pending[ch] == nil {
		t.m.pending[ch] = map[int64]domain.IngestedFile{}
	}
	f.Transcript = ""
	t.m.pending[ch][f.MessageID] = f
	return nil
}

func (t memTx) DeletePending(ch string, id int64) error {
	delete(t.m.pending[ch], id)
	return nil
}

func (t memTx) ListPending(ch string) ([]domain.IngestedFile, error) {
	var out []domain.IngestedFile
	for _, f := range t.m.pending[ch] {
		out = append(out, f)
	}
	return out, nil
}

func (t memTx) CountSeen(ch string) (int, int, error) {
	var ingested, duplicates int
	for _, r := range t.m.seen[ch] {
		switch r.Outcome {
		case domain.OutcomeIngested:
			ingested++
		case domain.OutcomeDuplicate:
			duplicates++
		}
	}
	return ingested, duplicates, nil
}

type fakeSource struct {
	meta     domain.ChannelMeta
	messages []domain.AudioMessage
	content  map[int64][]byte
	listErr  error
	fetchErr map[int64]error
	fetches  map[int64]int
	cursors  []int64
	onFetch  func(id int64)
}

func newFakeSource(alias, title string) *fakeSource {
	return &fakeSource{
		meta:     domain.ChannelMeta{ID: 42, Alias: alias, Title: title},
		content:  map[int64][]byte{},
		fetchErr: map[int64]error{},
		fetches:  map[int64]int{},
	}
}

func (f *fakeSource) add(msg domain.AudioMessage, content string) {
	msg.Size = int64(len(content))
	f.messages = append(f.messages, msg)
	f.content[msg.ID] = []byte(content)
}

func (f *fakeSource) ResolveChannel(context.Context, string) (domain.ChannelMeta, error) {
	return f.meta, nil
}

func (f *fakeSource) ListNewAudioMessages(_ context.Context, _ string, since int64) ([]domain.AudioMessage, error) {
	f.cursors = append(f.cursors, since)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.AudioMessage
	for _, m := range f.messages {
		if m.ID > since {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchAudio(_ context.Context, msg domain.AudioMessage, w io.Writer) (int64, error) {
	f.fetches[msg.ID]++
	if f.onFetch != nil {
		f.onFetch(msg.ID)
	}
	if err := f.fetchErr[msg.ID]; err != nil {
		return 0, err
	}
	return io.Copy(w, bytes.NewReader(f.content[msg.ID]))
}

func (f *fakeSource) Close() error { return nil }

type fakeTranscriber struct {
	fail  map[string]error
	calls []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path, lang string) (string, error) {
	name := filepath.Base(path)
	f.calls = append(f.calls, name)
	if err := f.fail[name]; err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", lang, data), nil
}

type appended struct {
	doc    domain.DocumentHandle
	header domain.SectionHeader
	body   string
}

type fakeSink struct {
	err      error
	ensured  int
	sections []appended
}

func (f *fakeSink) EnsureDocument(_ context.Context, name string) (domain.DocumentHandle, error) {
	f.ensured++
	return domain.DocumentHandle{ID: "doc-" + name, Title: name + " Transcriptions"}, nil
}

func (f *fakeSink) AppendSection(_ context.Context, doc domain.DocumentHandle, h domain.SectionHeader, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sections = append(f.sections, appended{doc: doc, header: h, body: body})
	return nil
}

type dirCache struct{ dir string }

func (c dirCache) Save(_ context.Context, name, text string) (string, error) {
	path := filepath.Join(c.dir, name+".txt")
	return path, os.WriteFile(path, []byte(text), 0o644)
}

func (c dirCache) Load(_ context.Context, path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

type fakeArchiver struct {
	paths []string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, _ string, path string) error {
	a.paths = append(a.paths, filepath.Base(path))
	return a.err
}
