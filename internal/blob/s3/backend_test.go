package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/tgvault/internal/blob"
)

// fakeS3 — бакет в памяти. Объекты до partSize приходят одним PutObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart не поддерживается фейком")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart не поддерживается фейком")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart не поддерживается фейком")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestBackend(api API, maxSize int64) *Backend {
	return NewWithClient(api, "tgvault", maxSize, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBackend_StoreResolve(t *testing.T) {
	api := newFakeS3()
	b := newTestBackend(api, 1<<20)
	ctx := context.Background()

	h, err := b.Store(ctx, strings.NewReader("hello, s3"), 9, "doc.txt_chunk_0")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(h.ID, "/doc.txt_chunk_0"), "ключ = %s", h.ID)
	assert.Zero(t, h.MessageID)

	body, err := b.Resolve(ctx, h.ID)
	require.NoError(t, err)
	defer body.Close()
	got, _ := io.ReadAll(body)
	assert.Equal(t, "hello, s3", string(got))
}

func TestBackend_StoreUniqueKeys(t *testing.T) {
	b := newTestBackend(newFakeS3(), 1<<20)

	h1, err := b.Store(context.Background(), strings.NewReader("a"), 1, "same")
	require.NoError(t, err)
	h2, err := b.Store(context.Background(), strings.NewReader("b"), 1, "same")
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)
}

func TestBackend_StoreLimitsSource(t *testing.T) {
	api := newFakeS3()
	b := newTestBackend(api, 1<<20)

	src := strings.NewReader("0123456789")
	h, err := b.Store(context.Background(), src, 4, "part")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), api.objects[h.ID])
}

func TestBackend_StoreShortSource(t *testing.T) {
	b := newTestBackend(newFakeS3(), 1<<20)

	_, err := b.Store(context.Background(), strings.NewReader("abc"), 10, "short")
	var se *blob.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "short", se.Name)
}

func TestBackend_StoreTooLarge(t *testing.T) {
	api := newFakeS3()
	b := newTestBackend(api, 2)

	_, err := b.Store(context.Background(), strings.NewReader("abc"), 3, "big")
	require.ErrorIs(t, err, blob.ErrTooLarge)
	assert.Empty(t, api.objects)
}

func TestBackend_StoreUpstreamError(t *testing.T) {
	api := newFakeS3()
	api.putErr = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"}
	b := newTestBackend(api, 1<<20)

	_, err := b.Store(context.Background(), strings.NewReader("x"), 1, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, blob.ErrNotFound)
	assert.Contains(t, err.Error(), "SlowDown")
}

func TestBackend_ResolveMissing(t *testing.T) {
	b := newTestBackend(newFakeS3(), 1<<20)

	_, err := b.Resolve(context.Background(), "missing/key")
	require.ErrorIs(t, err, blob.ErrNotFound)

	var re *blob.ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "missing/key", re.HandleID)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", &types.NoSuchKey{}, true},
		{"NotFound", &types.NotFound{}, true},
		{"generic NoSuchKey", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"не API-ошибка", errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestBackend_Ping(t *testing.T) {
	api := newFakeS3()
	b := newTestBackend(api, 1<<20)
	require.NoError(t, b.Ping(context.Background()))

	api.headErr = &smithy.GenericAPIError{Code: "NoSuchBucket"}
	err := b.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tgvault")
}
