package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/tgvault/internal/config"
	"github.com/bigkaa/tgvault/internal/database"
	"github.com/bigkaa/tgvault/internal/domain/model"
)

func TestPrefixed(t *testing.T) {
	got := prefixed("f", "id, name,\n\tparent_id")
	if got != "f.id, f.name, f.parent_id" {
		t.Errorf("prefixed() = %q", got)
	}
	if !strings.HasPrefix(prefixed("f", fileColumns), "f.id, f.original_filename") {
		t.Errorf("prefixed(fileColumns) = %q", prefixed("f", fileColumns))
	}
}

// setupTestDB запускает PostgreSQL в контейнере, применяет миграции
// и возвращает пул подключений.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("tgvault_test"),
		postgres.WithUsername("tgvault"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	cfg := &config.Config{
		DBHost: host, DBPort: portNum, DBName: "tgvault_test",
		DBUser: "tgvault", DBPassword: "test-password", DBSSLMode: "disable",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func ptr[T any](v T) *T { return &v }

// chunkRecord строит запись чанка сессии.
func chunkRecord(session string, index, total int, size int64, folder *string) *model.FileRecord {
	rec := &model.FileRecord{
		OriginalFilename: "big.iso",
		OriginalFileSize: size,
		BlobHandle:       "handle-" + session + "-" + strconv.Itoa(index),
		IsChunked:        true,
		UploadSessionID:  ptr(session),
		ChunkIndex:       ptr(index),
		TotalChunks:      ptr(total),
		ParentFolderID:   folder,
	}
	if index == 0 {
		rec.TotalFileSize = ptr(size * int64(total))
	}
	return rec
}

func TestFileRepository_ChunksOutOfOrder(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	for _, i := range []int{2, 0, 1} {
		if err := repo.Insert(ctx, chunkRecord("s1", i, 3, 100, nil)); err != nil {
			t.Fatalf("Insert(chunk %d) вернул ошибку: %v", i, err)
		}
	}

	chunks, err := repo.ListChunks(ctx, "s1")
	if err != nil {
		t.Fatalf("ListChunks() вернул ошибку: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("ListChunks() = %d записей, ожидалось 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index() != i {
			t.Errorf("chunks[%d].ChunkIndex = %d, ожидался %d", i, c.Index(), i)
		}
	}

	first, err := repo.FindFirstChunk(ctx, "s1")
	if err != nil {
		t.Fatalf("FindFirstChunk() вернул ошибку: %v", err)
	}
	if first.Index() != 0 || first.TotalFileSize == nil || *first.TotalFileSize != 300 {
		t.Errorf("FindFirstChunk() = %+v", first)
	}

	// Повтор индекса — конфликт
	err = repo.Insert(ctx, chunkRecord("s1", 1, 3, 100, nil))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Insert: ожидался ErrConflict, получено %v", err)
	}
}

func TestFileRepository_ListTopLevelAggregates(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)
	folders := NewFolderRepository(pool)

	docs := &model.Folder{Name: "docs"}
	if err := folders.Create(ctx, docs); err != nil {
		t.Fatalf("Create(folder) вернул ошибку: %v", err)
	}

	single := &model.FileRecord{
		OriginalFilename: "report.pdf",
		OriginalFileSize: 500 * 1024,
		TotalFileSize:    ptr(int64(500 * 1024)),
		BlobHandle:       "h-report",
	}
	if err := repo.Insert(ctx, single); err != nil {
		t.Fatalf("Insert(single) вернул ошибку: %v", err)
	}
	// Полная сессия из 3 чанков и неполная (1 из 3)
	for i := 0; i < 3; i++ {
		if err := repo.Insert(ctx, chunkRecord("full", i, 3, 10, nil)); err != nil {
			t.Fatalf("Insert вернул ошибку: %v", err)
		}
	}
	if err := repo.Insert(ctx, chunkRecord("partial", 0, 3, 10, nil)); err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}
	// Сессия без total_file_size на chunk 0: размер — сумма чанков (4+4+2)
	for i, size := range []int64{4, 4, 2} {
		rec := chunkRecord("nosize", i, 3, size, nil)
		rec.TotalFileSize = nil
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert вернул ошибку: %v", err)
		}
	}
	// Файл в другой папке не должен попасть в корень
	if err := repo.Insert(ctx, chunkRecord("other", 0, 1, 10, &docs.ID)); err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}

	entries, err := repo.ListTopLevel(ctx, nil)
	if err != nil {
		t.Fatalf("ListTopLevel() вернул ошибку: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("ListTopLevel() = %d записей, ожидалось 4", len(entries))
	}

	sessions := map[string]*model.ChunkedAggregate{}
	singles := 0
	for i, e := range entries {
		if i > 0 && e.UploadDate().After(entries[i-1].UploadDate()) {
			t.Errorf("листинг не отсортирован по дате (desc)")
		}
		switch e.Kind {
		case model.EntrySingle:
			singles++
			if e.Single.OriginalFilename != "report.pdf" {
				t.Errorf("single = %q", e.Single.OriginalFilename)
			}
		case model.EntryChunkedAggregate:
			if _, dup := sessions[e.Aggregate.SessionID]; dup {
				t.Errorf("сессия %s встречается дважды", e.Aggregate.SessionID)
			}
			sessions[e.Aggregate.SessionID] = e.Aggregate
		}
	}
	if singles != 1 {
		t.Errorf("singles = %d, ожидался 1", singles)
	}
	if agg := sessions["full"]; agg == nil || agg.PersistedChunks != 3 || agg.TotalChunks != 3 || agg.TotalFileSize != 30 {
		t.Errorf("агрегат full = %+v", agg)
	}
	if agg := sessions["partial"]; agg == nil || agg.PersistedChunks != 1 || agg.TotalChunks != 3 {
		t.Errorf("агрегат partial = %+v", agg)
	}
	if agg := sessions["nosize"]; agg == nil || agg.PersistedChunks != 3 || agg.TotalFileSize != 10 {
		t.Errorf("агрегат nosize = %+v, ожидался размер 10", agg)
	}

	inDocs, err := repo.ListTopLevel(ctx, &docs.ID)
	if err != nil {
		t.Fatalf("ListTopLevel(docs) вернул ошибку: %v", err)
	}
	if len(inDocs) != 1 || inDocs[0].Aggregate == nil || inDocs[0].Aggregate.SessionID != "other" {
		t.Errorf("ListTopLevel(docs) = %+v", inDocs)
	}
}

func TestFileRepository_ToggleShare(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	for i := 0; i < 2; i++ {
		if err := repo.Insert(ctx, chunkRecord("shared", i, 2, 10, nil)); err != nil {
			t.Fatalf("Insert вернул ошибку: %v", err)
		}
	}
	first, _ := repo.FindFirstChunk(ctx, "shared")

	on, err := repo.ToggleShare(ctx, first.ID, "tok-1")
	if err != nil {
		t.Fatalf("ToggleShare(on) вернул ошибку: %v", err)
	}
	if !on.IsPublic || on.PublicShareToken == nil || *on.PublicShareToken != "tok-1" {
		t.Errorf("после включения: %+v", on)
	}

	entries, _ := repo.ListTopLevel(ctx, nil)
	if len(entries) != 1 || !entries[0].Aggregate.IsPublic {
		t.Errorf("агрегат должен быть публичным: %+v", entries)
	}

	found, err := repo.FindByShareToken(ctx, "tok-1")
	if err != nil || found.ID != first.ID {
		t.Errorf("FindByShareToken() = %+v, %v", found, err)
	}

	off, err := repo.ToggleShare(ctx, first.ID, "tok-2")
	if err != nil {
		t.Fatalf("ToggleShare(off) вернул ошибку: %v", err)
	}
	if off.IsPublic || off.PublicShareToken != nil {
		t.Errorf("после выключения токен должен быть очищен: %+v", off)
	}
	if _, err := repo.FindByShareToken(ctx, "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("старый токен должен перестать работать: %v", err)
	}

	if _, err := repo.ToggleShare(ctx, "00000000-0000-0000-0000-000000000000", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleShare(unknown) = %v, ожидался ErrNotFound", err)
	}
}

func TestFileRepository_SessionState(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	if _, err := repo.SessionState(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SessionState(missing) = %v, ожидался ErrNotFound", err)
	}

	_ = repo.Insert(ctx, chunkRecord("st", 0, 3, 10, nil))
	_ = repo.Insert(ctx, chunkRecord("st", 2, 3, 10, nil))

	st, err := repo.SessionState(ctx, "st")
	if err != nil {
		t.Fatalf("SessionState() вернул ошибку: %v", err)
	}
	if st.PersistedChunks != 2 || st.TotalChunks != 3 || st.Complete {
		t.Errorf("SessionState() = %+v", st)
	}
	if len(st.MissingIndices) != 1 || st.MissingIndices[0] != 1 {
		t.Errorf("MissingIndices = %v, ожидалось [1]", st.MissingIndices)
	}
}

func TestFileRepository_SchemaRejectsMixedRecord(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	// Нечанкованная запись с полями сессии нарушает CHECK
	bad := &model.FileRecord{
		OriginalFilename: "x",
		BlobHandle:       "h",
		UploadSessionID:  ptr("s"),
	}
	if err := repo.Insert(ctx, bad); err == nil {
		t.Error("ожидалась ошибка CHECK для нечанкованной записи с session id")
	}

	// Несуществующая папка
	orphan := &model.FileRecord{
		OriginalFilename: "x",
		BlobHandle:       "h",
		ParentFolderID:   ptr("00000000-0000-0000-0000-000000000001"),
	}
	if err := repo.Insert(ctx, orphan); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Insert(orphan) = %v, ожидался ErrInvalidReference", err)
	}
}

func TestFolderRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFolderRepository(pool)

	parent := &model.Folder{Name: "photos"}
	if err := repo.Create(ctx, parent); err != nil {
		t.Fatalf("Create() вернул ошибку: %v", err)
	}
	for _, name := range []string{"2023", "2024"} {
		if err := repo.Create(ctx, &model.Folder{Name: name, ParentID: &parent.ID}); err != nil {
			t.Fatalf("Create(%s) вернул ошибку: %v", name, err)
		}
	}

	children, err := repo.ListByParent(ctx, &parent.ID)
	if err != nil {
		t.Fatalf("ListByParent() вернул ошибку: %v", err)
	}
	if len(children) != 2 || children[0].Name != "2023" {
		t.Errorf("ListByParent() = %+v", children)
	}

	roots, err := repo.ListByParent(ctx, nil)
	if err != nil || len(roots) != 1 {
		t.Errorf("ListByParent(nil) = %d, %v", len(roots), err)
	}

	if _, err := repo.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(not-a-uuid) = %v, ожидался ErrNotFound", err)
	}
}
