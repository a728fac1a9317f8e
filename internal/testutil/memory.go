// Пакет testutil — реализации Blob Backend и репозиториев в памяти
// для тестов сервисного и HTTP-слоя.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/tgvault/internal/blob"
	"github.com/bigkaa/tgvault/internal/domain/model"
	"github.com/bigkaa/tgvault/internal/repository"
)

// --- Blob Backend в памяти ---

// MemBackend — Blob Backend в памяти.
type MemBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	names      []string
	max        int64
	failStore  func(name string) error
	failLookup map[string]bool
	stores     int
}

// NewMemBackend создаёт бэкенд с лимитом объекта max.
func NewMemBackend(max int64) *MemBackend {
	return &MemBackend{objects: map[string][]byte{}, max: max, failLookup: map[string]bool{}}
}

func (b *MemBackend) Store(_ context.Context, r io.Reader, size int64, name string) (blob.Handle, error) {
	b.mu.Lock()
	b.stores++
	fail := b.failStore
	b.mu.Unlock()

	if fail != nil {
		if err := fail(name); err != nil {
			return blob.Handle{}, &blob.StoreError{Name: name, Err: err}
		}
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: err}
	}
	if int64(len(data)) != size {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: io.ErrUnexpectedEOF}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.objects[id] = data
	b.names = append(b.names, name)
	return blob.Handle{ID: id, MessageID: int64(len(b.names))}, nil
}

func (b *MemBackend) Resolve(_ context.Context, id string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[id]
	if !ok || b.failLookup[id] {
		return nil, &blob.ResolveError{HandleID: id, Err: blob.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *MemBackend) MaxObjectSize() int64 { return b.max }

// StoreCount — количество вызовов Store.
func (b *MemBackend) StoreCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores
}

// --- Репозитории в памяти ---

// MemFiles — repository.FileRepository в памяти.
// Часы сдвигаются на секунду при каждой вставке.
type MemFiles struct {
	mu      sync.Mutex
	records []*model.FileRecord
	clock   time.Time
}

// NewMemFiles создаёт пустой каталог файлов.
func NewMemFiles() *MemFiles {
	return &MemFiles{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func cloneRecord(f *model.FileRecord) *model.FileRecord {
	c := *f
	return &c
}

func (m *MemFiles) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.IsChunked {
		for _, r := range m.records {
			if r.IsChunked && r.SessionID() == rec.SessionID() && r.Index() == rec.Index() {
				return fmt.Errorf("%w: дубликат", repository.ErrConflict)
			}
		}
	}
	m.clock = m.clock.Add(time.Second)
	rec.ID = uuid.NewString()
	rec.UploadDate = m.clock
	m.records = append(m.records, cloneRecord(rec))
	return nil
}

func (m *MemFiles) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MemFiles) ListChunks(_ context.Context, sessionID string) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FileRecord
	for _, r := range m.records {
		if r.IsChunked && r.SessionID() == sessionID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out, nil
}

func (m *MemFiles) FindFirstChunk(ctx context.Context, sessionID string) (*model.FileRecord, error) {
	chunks, _ := m.ListChunks(ctx, sessionID)
	if len(chunks) == 0 || chunks[0].Index() != 0 {
		return nil, repository.ErrNotFound
	}
	return chunks[0], nil
}

func (m *MemFiles) ListTopLevel(ctx context.Context, folderID *string) ([]model.ListingEntry, error) {
	m.mu.Lock()
	var tops []*model.FileRecord
	for _, r := range m.records {
		if !sameFolder(r.ParentFolderID, folderID) {
			continue
		}
		if !r.IsChunked || r.IsFirstChunk() {
			tops = append(tops, cloneRecord(r))
		}
	}
	m.mu.Unlock()

	sort.Slice(tops, func(i, j int) bool { return tops[i].UploadDate.After(tops[j].UploadDate) })
	entries := make([]model.ListingEntry, 0, len(tops))
	for _, r := range tops {
		if r.IsChunked {
			chunks, _ := m.ListChunks(ctx, r.SessionID())
			var size int64
			for _, c := range chunks {
				size += c.OriginalFileSize
			}
			entries = append(entries, model.NewAggregateEntry(r, len(chunks), size))
		} else {
			entries = append(entries, model.NewSingleEntry(r))
		}
	}
	return entries, nil
}

func (m *MemFiles) SessionState(ctx context.Context, sessionID string) (model.SessionState, error) {
	chunks, _ := m.ListChunks(ctx, sessionID)
	if len(chunks) == 0 {
		return model.SessionState{}, repository.ErrNotFound
	}
	return model.BuildSessionState(sessionID, chunks), nil
}

func (m *MemFiles) ToggleShare(_ context.Context, id, token string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID != id {
			continue
		}
		if r.IsPublic {
			r.IsPublic = false
			r.PublicShareToken = nil
		} else {
			t := token
			r.IsPublic = true
			r.PublicShareToken = &t
		}
		return cloneRecord(r), nil
	}
	return nil, repository.ErrNotFound
}

func (m *MemFiles) FindByShareToken(_ context.Context, token string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.IsPublic && r.PublicShareToken != nil && *r.PublicShareToken == token {
			return cloneRecord(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func sameFolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MemFolders — repository.FolderRepository в памяти.
// FailGet, если задан, возвращается из GetByID.
type MemFolders struct {
	mu      sync.Mutex
	folders []*model.Folder
	FailGet error
}

func (m *MemFolders) Create(_ context.Context, f *model.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ParentID != nil && m.find(*f.ParentID) == nil {
		return repository.ErrInvalidReference
	}
	f.ID = uuid.NewString()
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	c := *f
	m.folders = append(m.folders, &c)
	return nil
}

func (m *MemFolders) GetByID(_ context.Context, id string) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	if f := m.find(id); f != nil {
		c := *f
		return &c, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MemFolders) ListByParent(_ context.Context, parentID *string) ([]*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Folder, 0)
	for _, f := range m.folders {
		if sameFolder(f.ParentID, parentID) {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemFolders) find(id string) *model.Folder {
	for _, f := range m.folders {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// SetFailStore задаёт ошибку Store для объекта с именем name (nil — успех).
func (b *MemBackend) SetFailStore(fn func(name string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failStore = fn
}

// FailLookup делает объект id нечитаемым.
func (b *MemBackend) FailLookup(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLookup[id] = true
}

// Records возвращает копии всех сохранённых записей.
func (m *MemFiles) Records() []*model.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.FileRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, cloneRecord(r))
	}
	return out
}

// Ping всегда успешен.
func (b *MemBackend) Ping(context.Context) error { return nil }
