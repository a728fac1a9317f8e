// Пакет telegram — Blob Backend поверх Telegram Bot API.
// Объекты хранятся документами в канале: запись через sendDocument,
// чтение в две фазы — getFile (file_id → file_path) и скачивание по file_path.
//
// Идемпотентные GET-запросы выполняются через go-retryablehttp с повторами.
// sendDocument не повторяется: повтор создал бы второе сообщение в канале.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bigkaa/tgvault/internal/blob"
)

// Options — параметры клиента Bot API.
type Options struct {
	// APIURL — базовый URL Bot API (https://api.telegram.org или локальный сервер)
	APIURL string
	// BotToken — токен бота
	BotToken string
	// ChatID — канал, в который отправляются документы
	ChatID string
	// RetryMax — количество повторов идемпотентных запросов
	RetryMax int
	// Timeout — таймаут одного HTTP-запроса
	Timeout time.Duration
	// MaxObjectSize — лимит Bot API на размер документа
	MaxObjectSize int64
	// CacheSize, CacheTTL — параметры кэша file_path
	CacheSize int
	CacheTTL  time.Duration
}

// Client — реализация blob.Backend для Telegram.
type Client struct {
	// rc — клиент с повторами для getFile и скачивания
	rc *retryablehttp.Client
	// upload — клиент без повторов для sendDocument
	upload *http.Client

	apiURL        string
	token         string
	chatID        string
	maxObjectSize int64
	paths         *pathCache
	logger        *slog.Logger
}

// New создаёт клиент Bot API.
func New(opts Options, logger *slog.Logger) *Client {
	logger = logger.With(slog.String("component", "telegram_backend"))

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	// Встроенный логгер пишет URL с токеном, поэтому отключён
	rc.Logger = nil
	rc.HTTPClient.Timeout = opts.Timeout

	c := &Client{
		rc:            rc,
		upload:        &http.Client{Timeout: opts.Timeout},
		apiURL:        strings.TrimRight(opts.APIURL, "/"),
		token:         opts.BotToken,
		chatID:        opts.ChatID,
		maxObjectSize: opts.MaxObjectSize,
		paths:         newPathCache(opts.CacheSize, opts.CacheTTL),
		logger:        logger,
	}
	rc.RequestLogHook = c.logAttempt
	return c
}

// MaxObjectSize возвращает лимит Bot API на размер документа.
func (c *Client) MaxObjectSize() int64 {
	return c.maxObjectSize
}

// --- Ответы Bot API ---

// apiResponse — общая обёртка ответа Bot API.
type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type fileRef struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

type message struct {
	MessageID int64     `json:"message_id"`
	Document  *fileRef  `json:"document"`
	Photo     []fileRef `json:"photo"`
}

// fileID извлекает file_id из отправленного сообщения: документ,
// а если Telegram распознал изображение — самое большое превью.
func (m *message) fileID() string {
	if m.Document != nil && m.Document.FileID != "" {
		return m.Document.FileID
	}
	if n := len(m.Photo); n > 0 {
		return m.Photo[n-1].FileID
	}
	return ""
}

// APIError — ошибка, возвращённая Bot API.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: HTTP %d: %s", e.Method, e.StatusCode, e.Description)
}

// --- Store ---

// Store отправляет size байт из r документом в канал.
// Тело multipart формируется потоково через io.Pipe, чанк целиком в память не читается.
func (c *Client) Store(ctx context.Context, r io.Reader, size int64, name string) (blob.Handle, error) {
	if size > c.maxObjectSize {
		return blob.Handle{}, &blob.StoreError{
			Name: name,
			Err:  fmt.Errorf("%w: %s > %s", blob.ErrTooLarge, units.BytesSize(float64(size)), units.BytesSize(float64(c.maxObjectSize))),
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeDocumentForm(mw, c.chatID, name, r, size))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), pr)
	if err != nil {
		pr.CloseWithError(err)
		<-done
		return blob.Handle{}, &blob.StoreError{Name: name, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.upload.Do(req) //nolint:gosec // URL из конфигурации
	// Разблокируем writer, если запрос завершился до конца тела.
	// После возврата источник r больше не читается.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: fmt.Errorf("sendDocument: %w", c.redact(err))}
	}
	defer resp.Body.Close()

	var out apiResponse[message]
	if err := decodeResponse(resp, "sendDocument", &out); err != nil {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: err}
	}

	fileID := out.Result.fileID()
	if fileID == "" {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: errors.New("sendDocument: file_id отсутствует в ответе")}
	}

	c.logger.Debug("Документ отправлен",
		slog.String("name", name),
		slog.String("size", units.BytesSize(float64(size))),
		slog.Int64("message_id", out.Result.MessageID),
		slog.Duration("duration", time.Since(start)),
	)

	return blob.Handle{ID: fileID, MessageID: out.Result.MessageID}, nil
}

// writeDocumentForm пишет поля chat_id и document в multipart.
// Ровно size байт из r, иначе ошибка: объект не должен быть усечён.
func writeDocumentForm(mw *multipart.Writer, chatID, name string, r io.Reader, size int64) error {
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	n, err := io.CopyN(part, r, size)
	if err != nil {
		return fmt.Errorf("чтение источника: записано %d из %d байт: %w", n, size, err)
	}
	return mw.Close()
}

// --- Resolve ---

// Resolve возвращает поток байтов документа.
// Путь file_path кэшируется; если по закэшированному пути Telegram отвечает 404,
// путь запрашивается заново один раз.
func (c *Client) Resolve(ctx context.Context, fileID string) (io.ReadCloser, error) {
	path, cached := c.paths.get(fileID)
	if !cached {
		var err error
		path, err = c.getFilePath(ctx, fileID)
		if err != nil {
			return nil, &blob.ResolveError{HandleID: fileID, Err: err}
		}
		c.paths.set(fileID, path)
	}

	body, err := c.download(ctx, path)
	if err != nil && cached && errors.Is(err, blob.ErrNotFound) {
		c.paths.invalidate(fileID)
		path, err = c.getFilePath(ctx, fileID)
		if err != nil {
			return nil, &blob.ResolveError{HandleID: fileID, Err: err}
		}
		c.paths.set(fileID, path)
		body, err = c.download(ctx, path)
	}
	if err != nil {
		return nil, &blob.ResolveError{HandleID: fileID, Err: err}
	}
	return body, nil
}

// getFilePath — фаза 1: getFile?file_id=... → result.file_path.
func (c *Client) getFilePath(ctx context.Context, fileID string) (string, error) {
	reqURL := c.methodURL("getFile") + "?file_id=" + url.QueryEscape(fileID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("создание запроса getFile: %w", err)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return "", fmt.Errorf("getFile: %w", c.redact(err))
	}
	defer resp.Body.Close()

	var out apiResponse[fileRef]
	if err := decodeResponse(resp, "getFile", &out); err != nil {
		var apiErr *APIError
		// Неизвестный или истёкший file_id Bot API возвращает как 400
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound) {
			return "", fmt.Errorf("%w: %v", blob.ErrNotFound, err)
		}
		return "", err
	}
	if out.Result.FilePath == "" {
		return "", errors.New("getFile: file_path отсутствует в ответе")
	}
	return out.Result.FilePath, nil
}

// download — фаза 2: GET {api}/file/bot{token}/{file_path}.
// Тело не закрывается: его закрывает потребитель потока.
func (c *Client) download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	reqURL := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса скачивания: %w", err)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("скачивание: %w", c.redact(err))
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: скачивание: HTTP 404", blob.ErrNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("скачивание: HTTP %d", resp.StatusCode)
	}
}

// Ping проверяет токен и доступность Bot API вызовом getMe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	if err != nil {
		return fmt.Errorf("создание запроса getMe: %w", err)
	}
	resp, err := c.rc.Do(req)
	if err != nil {
		return fmt.Errorf("getMe: %w", c.redact(err))
	}
	defer resp.Body.Close()

	var out apiResponse[json.RawMessage]
	return decodeResponse(resp, "getMe", &out)
}

// methodURL возвращает URL метода Bot API.
func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
}

// decodeResponse разбирает ответ Bot API и превращает ok=false в *APIError.
func decodeResponse[T any](resp *http.Response, method string, out *apiResponse[T]) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: декодирование ответа: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, StatusCode: code, Description: out.Description}
	}
	return nil
}

// redact убирает токен бота из текста ошибки: ошибки net/http и
// retryablehttp содержат полный URL запроса.
func (c *Client) redact(err error) error {
	if err == nil || c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), c.token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// logAttempt логирует повторные попытки идемпотентных запросов без URL.
func (c *Client) logAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if attempt == 0 {
		return
	}
	method := req.URL.Path
	if i := strings.LastIndexByte(method, '/'); i >= 0 {
		method = method[i+1:]
	}
	c.logger.Warn("Повтор запроса к Bot API",
		slog.String("method", method),
		slog.Int("attempt", attempt),
	)
}

// Проверка соответствия интерфейсу.
var _ blob.Backend = (*Client)(nil)

