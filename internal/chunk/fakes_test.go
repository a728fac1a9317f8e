package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bigkaa/tgvault/internal/blob"
	"github.com/bigkaa/tgvault/internal/domain/model"
)

// memBackend — in-memory Blob Backend.
type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	names   []string
	max     int64
	// failStore — номер вызова Store (с 1), который завершится ошибкой
	failStore int
	stores    int
	resolves  []string
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte), max: 1 << 40}
}

func (b *memBackend) Store(ctx context.Context, r io.Reader, size int64, name string) (blob.Handle, error) {
	b.mu.Lock()
	b.stores++
	n := b.stores
	b.names = append(b.names, name)
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return blob.Handle{}, err
	}
	if b.failStore == n {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: errors.New("upstream 502")}
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return blob.Handle{}, err
	}
	if int64(len(data)) != size {
		return blob.Handle{}, fmt.Errorf("short source: %d of %d", len(data), size)
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.objects[id] = data
	b.mu.Unlock()
	return blob.Handle{ID: id, MessageID: int64(n)}, nil
}

func (b *memBackend) Resolve(_ context.Context, id string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolves = append(b.resolves, id)
	data, ok := b.objects[id]
	if !ok {
		return nil, &blob.ResolveError{HandleID: id, Err: blob.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBackend) MaxObjectSize() int64 { return b.max }

// storeCount возвращает количество вызовов Store.
func (b *memBackend) storeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores
}

// memCatalog — in-memory Session Catalog.
type memCatalog struct {
	mu      sync.Mutex
	records []*model.FileRecord
}

func (c *memCatalog) Insert(_ context.Context, rec *model.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.SessionID() == rec.SessionID() && r.Index() == rec.Index() {
			return errors.New("duplicate chunk")
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	c.records = append(c.records, rec)
	return nil
}

func (c *memCatalog) ListChunks(_ context.Context, sessionID string) ([]*model.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.FileRecord
	for _, r := range c.records {
		if r.IsChunked && r.SessionID() == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out, nil
}

func (c *memCatalog) count(sessionID string) int {
	list, _ := c.ListChunks(context.Background(), sessionID)
	return len(list)
}

// failingWriter возвращает ошибку после limit байт.
type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		k := w.limit - w.n
		w.n = w.limit
		return k, errors.New("broken pipe")
	}
	w.n += len(p)
	return len(p), nil
}

// payload возвращает детерминированные байты длины n.
func payload(n int64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/7)
	}
	return b
}
