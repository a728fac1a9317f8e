package database

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/tgvault/internal/config"
)

// ConnectFunc создаёт пул подключений.
type ConnectFunc func(ctx context.Context) (*pgxpool.Pool, error)

// Lazy — пул подключений процесса, создаваемый при первом обращении.
// Одновременные первые обращения создают ровно один пул; неудачная
// попытка не запоминается, следующий вызов пробует снова.
// Пул живёт до Close при завершении процесса.
//
// Lazy реализует DBTX, поэтому репозитории работают с ним как с пулом.
type Lazy struct {
	mu      sync.Mutex
	pool    *pgxpool.Pool
	connect ConnectFunc
}

// NewLazy создаёт ленивый пул с подключением по конфигурации.
func NewLazy(cfg *config.Config, logger *slog.Logger) *Lazy {
	return NewLazyWith(func(ctx context.Context) (*pgxpool.Pool, error) {
		return Connect(ctx, cfg, logger)
	})
}

// NewLazyWith создаёт ленивый пул с произвольной функцией подключения.
func NewLazyWith(connect ConnectFunc) *Lazy {
	return &Lazy{connect: connect}
}

// Pool возвращает пул, создавая его при первом вызове.
func (l *Lazy) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pool != nil {
		return l.pool, nil
	}
	pool, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	l.pool = pool
	return pool, nil
}

// Ping проверяет подключение (создаёт пул, если его ещё нет).
func (l *Lazy) Ping(ctx context.Context) error {
	pool, err := l.Pool(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close закрывает пул, если он был создан.
func (l *Lazy) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
}

// Exec выполняет запрос без результата.
func (l *Lazy) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := l.Pool(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

// Query выполняет запрос, возвращающий строки.
func (l *Lazy) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := l.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

// QueryRow выполняет запрос, возвращающий одну строку.
// Ошибка подключения возвращается из Scan.
func (l *Lazy) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	pool, err := l.Pool(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return pool.QueryRow(ctx, sql, args...)
}

// Begin начинает транзакцию.
func (l *Lazy) Begin(ctx context.Context) (pgx.Tx, error) {
	pool, err := l.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Begin(ctx)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }
