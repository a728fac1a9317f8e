package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/tgvault/internal/blob"
)

func newTestStore(t *testing.T, max int64) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data"), max, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}
	return s
}

// TestNew_CreatesDirectory проверяет создание каталога данных.
func TestNew_CreatesDirectory(t *testing.T) {
	s := newTestStore(t, 1024)

	info, err := os.Stat(s.dataDir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

// TestStoreResolve проверяет запись и чтение объекта.
func TestStoreResolve(t *testing.T) {
	s := newTestStore(t, 1024)
	content := []byte("Тестовые данные чанка")

	h, err := s.Store(context.Background(), bytes.NewReader(content), int64(len(content)), blob.ChunkName("report.pdf", 2))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if !strings.HasPrefix(h.ID, "report_") {
		t.Errorf("имя файла должно начинаться с оригинального имени: %s", h.ID)
	}
	if !strings.HasSuffix(h.ID, ".pdf_chunk_2") {
		t.Errorf("имя файла должно сохранять расширение: %s", h.ID)
	}
	if h.MessageID != 0 {
		t.Errorf("MessageID: ожидался 0, получен %d", h.MessageID)
	}

	rc, err := s.Resolve(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("ошибка Resolve: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q", got)
	}
}

// TestStore_Empty проверяет запись пустого объекта.
func TestStore_Empty(t *testing.T) {
	s := newTestStore(t, 1024)

	h, err := s.Store(context.Background(), bytes.NewReader(nil), 0, "empty")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	rc, err := s.Resolve(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("ошибка Resolve: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if len(got) != 0 {
		t.Errorf("ожидался пустой объект, получено %d байт", len(got))
	}
}

// TestStore_Failures проверяет, что при ошибке объект не остаётся на диске.
func TestStore_Failures(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		data    []byte
		size    int64
		wantErr error
	}{
		{"превышение лимита", context.Background(), make([]byte, 2048), 2048, blob.ErrTooLarge},
		{"короткий источник", context.Background(), []byte("abc"), 10, nil},
		{"отменённый контекст", canceled, []byte("abc"), 3, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, 1024)

			_, err := s.Store(tt.ctx, bytes.NewReader(tt.data), tt.size, "f.bin")
			var storeErr *blob.StoreError
			if !errors.As(err, &storeErr) {
				t.Fatalf("ожидалась *blob.StoreError, получено %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ожидалась %v, получено %v", tt.wantErr, err)
			}

			entries, err := os.ReadDir(s.dataDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("после ошибки в каталоге остались файлы: %d", len(entries))
			}
		})
	}
}

// TestResolve_NotFound проверяет отсутствующие и некорректные handle.
func TestResolve_NotFound(t *testing.T) {
	s := newTestStore(t, 1024)

	for _, id := range []string{"", "missing", "../etc/passwd", "a/b", ".hidden"} {
		_, err := s.Resolve(context.Background(), id)
		if !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("Resolve(%q): ожидалась blob.ErrNotFound, получено %v", id, err)
		}
	}
}

// TestSanitize проверяет очистку имени файла.
func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report", "report"},
		{"отчёт 2024", "отчёт2024"},
		{"../../x", "x"},
		{"!!!", "file"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, ожидали %q", tt.in, got, tt.want)
		}
	}
}
