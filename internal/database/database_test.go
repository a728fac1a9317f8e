package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/tgvault/internal/config"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadinessChecker_Fake(t *testing.T) {
	status, _ := NewReadinessChecker(fakePinger{}).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, ожидали ok", status)
	}

	status, msg := NewReadinessChecker(fakePinger{err: errors.New("connection refused")}).CheckReady()
	if status != "fail" {
		t.Errorf("CheckReady() status = %q, ожидали fail", status)
	}
	if msg == "" {
		t.Error("CheckReady() должен вернуть сообщение об ошибке")
	}
}

// unreachablePool создаёт пул без подключения: pgxpool соединяется лениво.
func unreachablePool(ctx context.Context) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, "postgres://u:p@127.0.0.1:1/db?connect_timeout=1")
}

func TestLazy_SingleConnectUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	lazy := NewLazyWith(func(ctx context.Context) (*pgxpool.Pool, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return unreachablePool(ctx)
	})
	defer lazy.Close()

	var wg sync.WaitGroup
	pools := make([]*pgxpool.Pool, 16)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := lazy.Pool(context.Background())
			if err != nil {
				t.Errorf("Pool() вернул ошибку: %v", err)
				return
			}
			pools[i] = p
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("connect вызван %d раз, ожидали 1", got)
	}
	for i := 1; i < len(pools); i++ {
		if pools[i] != pools[0] {
			t.Fatalf("Pool() вернул разные пулы")
		}
	}
}

func TestLazy_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	lazy := NewLazyWith(func(ctx context.Context) (*pgxpool.Pool, error) {
		// Первые две попытки (Pool и QueryRow) падают
		if calls.Add(1) <= 2 {
			return nil, errors.New("база недоступна")
		}
		return unreachablePool(ctx)
	})
	defer lazy.Close()

	if _, err := lazy.Pool(context.Background()); err == nil {
		t.Fatal("первый Pool() должен вернуть ошибку")
	}
	if err := lazy.QueryRow(context.Background(), "SELECT 1").Scan(new(int)); err == nil {
		t.Error("ошибка подключения должна вернуться из Scan")
	}
	pool, err := lazy.Pool(context.Background())
	if err != nil {
		t.Fatalf("повторный Pool() вернул ошибку: %v", err)
	}
	if pool == nil {
		t.Fatal("повторный Pool() вернул nil")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("connect вызван %d раз, ожидали 3", got)
	}
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
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

	t.Setenv("TV_DB_HOST", host)
	t.Setenv("TV_DB_PORT", port.Port())
	t.Setenv("TV_DB_NAME", "tgvault_test")
	t.Setenv("TV_DB_USER", "tgvault")
	t.Setenv("TV_DB_PASSWORD", "test-password")
	t.Setenv("TV_DB_SSL_MODE", "disable")
	t.Setenv("TV_TELEGRAM_BOT_TOKEN", "123:test")
	t.Setenv("TV_TELEGRAM_CHAT_ID", "-100")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	if cfg.DBPort != mustAtoi(t, port.Port()) {
		t.Fatalf("DBPort = %d, ожидали %s", cfg.DBPort, port.Port())
	}
	return cfg
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("Atoi(%q): %v", s, err)
	}
	return n
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	lazy := NewLazy(cfg, logger)
	defer lazy.Close()

	for _, table := range []string{"files", "folders"} {
		var exists bool
		err := lazy.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	status, msg := NewReadinessChecker(lazy).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q", status, msg)
	}
}
