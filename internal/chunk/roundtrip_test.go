package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/tgvault/internal/domain/model"
)

const testChunkSize = 16

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploadReassemble_RoundTrip(t *testing.T) {
	const c = testChunkSize
	for _, parallelism := range []int{1, 3} {
		for _, size := range []int64{0, 1, c - 1, c, c + 1, 3 * c, 5 * c / 2} {
			t.Run(fmt.Sprintf("S=%d/P=%d", size, parallelism), func(t *testing.T) {
				ctx := context.Background()
				backend := newMemBackend()
				catalog := &memCatalog{}
				up := NewUploader(backend, catalog, c, parallelism, testLogger())

				src := payload(size)
				sessionID := uuid.NewString()

				var progress []int
				res, err := up.Upload(ctx, bytes.NewReader(src), Params{
					SessionID: sessionID,
					Filename:  "report.bin",
					FileSize:  size,
				}, func(done, total int) {
					progress = append(progress, done)
					assert.Equal(t, max(1, Count(size, c)), total)
				})
				require.NoError(t, err)

				wantChunks := max(1, Count(size, c))
				assert.Equal(t, wantChunks, res.TotalChunks)
				assert.Len(t, res.Records, wantChunks)
				assert.Equal(t, wantChunks, catalog.count(sessionID))
				assert.Len(t, progress, wantChunks)

				first := res.Records[0]
				require.NotNil(t, first.TotalFileSize)
				assert.Equal(t, size, *first.TotalFileSize)
				for _, rec := range res.Records[1:] {
					assert.Nil(t, rec.TotalFileSize, "размер файла только в chunk 0")
				}

				asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, sessionID)
				require.NoError(t, err)
				assert.Equal(t, "report.bin", asm.Filename)
				assert.Equal(t, size, asm.Size)

				var out bytes.Buffer
				n, err := asm.Stream(ctx, &out)
				require.NoError(t, err)
				assert.Equal(t, size, n)
				assert.True(t, bytes.Equal(src, out.Bytes()), "байты совпадают с исходником")
			})
		}
	}
}

func TestUpload_ChunkNames(t *testing.T) {
	backend := newMemBackend()
	up := NewUploader(backend, &memCatalog{}, testChunkSize, 1, testLogger())

	_, err := up.Upload(context.Background(), bytes.NewReader(payload(40)), Params{
		SessionID: "s1", Filename: "movie.mkv", FileSize: 40,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"movie.mkv_chunk_0", "movie.mkv_chunk_1", "movie.mkv_chunk_2"}, backend.names)
}

func TestUpload_FailureAtSecondChunkStops(t *testing.T) {
	backend := newMemBackend()
	backend.failStore = 2
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(context.Background(), bytes.NewReader(payload(3*testChunkSize)), Params{
		SessionID: "s-fail", Filename: "big.iso", FileSize: 3 * testChunkSize,
	}, nil)
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, StageStore, chunkErr.Stage)

	assert.Equal(t, 2, backend.storeCount(), "chunk 2 не должен загружаться")
	assert.Equal(t, 1, catalog.count("s-fail"), "сохранён только chunk 0, отката нет")

	list, _ := catalog.ListChunks(context.Background(), "s-fail")
	state := model.BuildSessionState("s-fail", list)
	assert.Equal(t, 3, state.TotalChunks)
	assert.Equal(t, 1, state.PersistedChunks)
	assert.Equal(t, []int{1, 2}, state.MissingIndices)
	assert.False(t, state.Complete)
}

func TestUpload_ParallelFailureReportsIndex(t *testing.T) {
	backend := newMemBackend()
	backend.failStore = 1
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 2, testLogger())

	_, err := up.Upload(context.Background(), bytes.NewReader(payload(10*testChunkSize)), Params{
		SessionID: "s-par", Filename: "f", FileSize: 10 * testChunkSize,
	}, nil)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Less(t, backend.storeCount(), 10, "после ошибки новые чанки не запускаются")
	assert.Less(t, catalog.count("s-par"), 10)

	// Все чанки ниже упавшего индекса сохранены
	list, _ := catalog.ListChunks(context.Background(), "s-par")
	persisted := make(map[int]bool, len(list))
	for _, rec := range list {
		persisted[rec.Index()] = true
	}
	for i := 0; i < chunkErr.Index; i++ {
		assert.True(t, persisted[i], "chunk %d должен быть сохранён", i)
	}
	assert.False(t, persisted[chunkErr.Index])
}

func TestUploadChunk_TooLarge(t *testing.T) {
	backend := newMemBackend()
	up := NewUploader(backend, &memCatalog{}, testChunkSize, 1, testLogger())

	_, err := up.UploadChunk(context.Background(), bytes.NewReader(payload(testChunkSize+1)), testChunkSize+1, ChunkMeta{
		SessionID: "s", Filename: "f", Index: 0, TotalChunks: 1,
	})
	assert.True(t, errors.Is(err, ErrChunkTooLarge))
	assert.Equal(t, 0, backend.storeCount(), "бэкенд не вызывается")
}

func TestUploadChunk_InvalidMeta(t *testing.T) {
	up := NewUploader(newMemBackend(), &memCatalog{}, testChunkSize, 1, testLogger())
	tests := []ChunkMeta{
		{Filename: "f", Index: 0, TotalChunks: 1},
		{SessionID: "s", Index: 0, TotalChunks: 1},
		{SessionID: "s", Filename: "f", Index: 0, TotalChunks: 0},
		{SessionID: "s", Filename: "f", Index: 3, TotalChunks: 3},
		{SessionID: "s", Filename: "f", Index: -1, TotalChunks: 3},
	}
	for i, m := range tests {
		_, err := up.UploadChunk(context.Background(), bytes.NewReader(nil), 0, m)
		assert.True(t, errors.Is(err, ErrInvalidInput), "case %d", i)
	}
}

func TestReassemble_OrderIndependentOfPersistence(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	src := payload(4*testChunkSize + 5)
	total := Count(int64(len(src)), testChunkSize)
	fileSize := int64(len(src))

	// Чанки приходят в обратном порядке
	for i := total - 1; i >= 0; i-- {
		start := int64(i) * testChunkSize
		end := min(start+testChunkSize, fileSize)
		m := ChunkMeta{SessionID: "rev", Filename: "r.bin", Index: i, TotalChunks: total}
		if i == 0 {
			m.TotalFileSize = &fileSize
		}
		_, err := up.UploadChunk(ctx, bytes.NewReader(src[start:end]), end-start, m)
		require.NoError(t, err)
	}
	assert.Equal(t, total-1, catalog.records[0].Index(), "порядок записи обратный")

	asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "rev")
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = asm.Stream(ctx, &out)
	require.NoError(t, err)
	assert.Equal(t, src, out.Bytes())
}

func TestPrepare_SessionNotFound(t *testing.T) {
	_, err := NewReassembler(&memCatalog{}, newMemBackend(), testLogger()).Prepare(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestPrepare_MissingChunkIsFatal(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.failStore = 2
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(ctx, bytes.NewReader(payload(3*testChunkSize)), Params{
		SessionID: "partial", Filename: "p", FileSize: 3 * testChunkSize,
	}, nil)
	require.Error(t, err)

	_, err = NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "partial")
	require.True(t, errors.Is(err, ErrChunkUnavailable))
	var unavailable *ChunkUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, unavailable.Index)
}

func TestPrepare_GapInMiddle(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	for _, i := range []int{0, 2} {
		_, err := up.UploadChunk(ctx, bytes.NewReader(payload(testChunkSize)), testChunkSize,
			ChunkMeta{SessionID: "gap", Filename: "g", Index: i, TotalChunks: 3})
		require.NoError(t, err)
	}

	_, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "gap")
	var unavailable *ChunkUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, unavailable.Index)
}

func TestPrepare_MissingHandleIsFatal(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(ctx, bytes.NewReader(payload(2*testChunkSize)), Params{
		SessionID: "nohandle", Filename: "n", FileSize: 2 * testChunkSize,
	}, nil)
	require.NoError(t, err)
	catalog.records[1].BlobHandle = ""

	_, err = NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "nohandle")
	var unavailable *ChunkUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, unavailable.Index)
}

func TestStream_UnresolvableChunkIsFatal(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(ctx, bytes.NewReader(payload(3*testChunkSize)), Params{
		SessionID: "expired", Filename: "e", FileSize: 3 * testChunkSize,
	}, nil)
	require.NoError(t, err)
	// Объект chunk 2 пропал из бэкенда
	delete(backend.objects, catalog.records[2].BlobHandle)

	asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "expired")
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := asm.Stream(ctx, &out)
	var unavailable *ChunkUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 2, unavailable.Index)
	assert.Equal(t, int64(2*testChunkSize), n)
}

func TestStream_ShortChunkIsFatal(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(ctx, bytes.NewReader(payload(2*testChunkSize)), Params{
		SessionID: "short", Filename: "s", FileSize: 2 * testChunkSize,
	}, nil)
	require.NoError(t, err)
	h := catalog.records[1].BlobHandle
	backend.objects[h] = backend.objects[h][:3]

	asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "short")
	require.NoError(t, err)
	_, err = asm.Stream(ctx, io.Discard)
	assert.True(t, errors.Is(err, ErrChunkUnavailable))
}

func TestStream_ClientWriteErrorAborts(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(ctx, bytes.NewReader(payload(4*testChunkSize)), Params{
		SessionID: "gone", Filename: "g", FileSize: 4 * testChunkSize,
	}, nil)
	require.NoError(t, err)

	asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "gone")
	require.NoError(t, err)
	_, err = asm.Stream(ctx, &failingWriter{limit: 5})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrChunkUnavailable), "ошибка клиента — не ошибка чанка")
	assert.Len(t, backend.resolves, 1, "остальные чанки не запрашиваются")
}

func TestStream_ContextCanceled(t *testing.T) {
	backend := newMemBackend()
	catalog := &memCatalog{}
	up := NewUploader(backend, catalog, testChunkSize, 1, testLogger())

	_, err := up.Upload(context.Background(), bytes.NewReader(payload(2*testChunkSize)), Params{
		SessionID: "cancel", Filename: "c", FileSize: 2 * testChunkSize,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	asm, err := NewReassembler(catalog, backend, testLogger()).Prepare(ctx, "cancel")
	require.NoError(t, err)
	cancel()

	_, err = asm.Stream(ctx, io.Discard)
	assert.True(t, errors.Is(err, context.Canceled))
}
