// Пакет s3 — альтернативный Blob Backend поверх S3-совместимого хранилища
// (AWS S3, MinIO). Handle — ключ объекта в бакете.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/bigkaa/tgvault/internal/blob"
)

// partSize — размер части multipart-загрузки.
const partSize = 16 * units.MiB

// Options — параметры подключения к S3.
type Options struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	MaxObjectSize int64
}

// API — подмножество методов S3, используемых бэкендом.
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend — реализация blob.Backend для S3.
type Backend struct {
	client        API
	uploader      *manager.Uploader
	bucket        string
	maxObjectSize int64
	logger        *slog.Logger
}

// New создаёт S3-клиент из параметров. Статические ключи используются,
// если заданы; иначе — стандартная цепочка провайдеров AWS.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Backend, error) {
	if opts.Region == "" {
		return nil, errors.New("s3: регион не задан")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: загрузка конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewWithClient(client, opts.Bucket, opts.MaxObjectSize, logger), nil
}

// NewWithClient создаёт бэкенд поверх готового клиента (используется в тестах).
func NewWithClient(client API, bucket string, maxObjectSize int64, logger *slog.Logger) *Backend {
	return &Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket:        bucket,
		maxObjectSize: maxObjectSize,
		logger:        logger.With(slog.String("component", "s3_backend")),
	}
}

// MaxObjectSize возвращает лимит на размер объекта.
func (b *Backend) MaxObjectSize() int64 {
	return b.maxObjectSize
}

// Store загружает size байт из r под ключом "<uuid>/<name>".
func (b *Backend) Store(ctx context.Context, r io.Reader, size int64, name string) (blob.Handle, error) {
	if size > b.maxObjectSize {
		return blob.Handle{}, &blob.StoreError{
			Name: name,
			Err:  fmt.Errorf("%w: %s > %s", blob.ErrTooLarge, units.BytesSize(float64(size)), units.BytesSize(float64(b.maxObjectSize))),
		}
	}

	key := uuid.NewString() + "/" + name
	body := &countingReader{r: io.LimitReader(r, size)}

	start := time.Now()
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: fmt.Errorf("put object: %w", err)}
	}
	if body.n != size {
		// Объект уже записан, но усечён: handle не возвращаем
		return blob.Handle{}, &blob.StoreError{
			Name: name,
			Err:  fmt.Errorf("источник короче заявленного: %d из %d байт", body.n, size),
		}
	}

	b.logger.Debug("Объект загружен",
		slog.String("key", key),
		slog.String("size", units.BytesSize(float64(size))),
		slog.Duration("duration", time.Since(start)),
	)
	return blob.Handle{ID: key}, nil
}

// Resolve возвращает тело объекта. NoSuchKey/NotFound → blob.ErrNotFound.
func (b *Backend) Resolve(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &blob.ResolveError{HandleID: key, Err: fmt.Errorf("%w: %v", blob.ErrNotFound, err)}
		}
		return nil, &blob.ResolveError{HandleID: key, Err: fmt.Errorf("get object: %w", err)}
	}
	return out.Body, nil
}

// Ping проверяет доступность бакета (используется readiness-проверкой).
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %q: %w", b.bucket, err)
	}
	return nil
}

// isNotFound распознаёт отсутствие объекта в ответе S3.
func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NoSuchKey, *types.NotFound:
		return true
	}
	return apiError.ErrorCode() == "NoSuchKey" || apiError.ErrorCode() == "NotFound"
}

// countingReader считает прочитанные байты.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ blob.Backend = (*Backend)(nil)
