// Пакет server — HTTP-сервер tgvault с graceful shutdown.
// Без TLS — TLS termination на reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/tgvault/internal/api/handlers"
	"github.com/bigkaa/tgvault/internal/api/middleware"
	"github.com/bigkaa/tgvault/internal/config"
)

// Server — HTTP-сервер tgvault.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (nil — аутентификация отключена).
func New(cfg *config.Config, logger *slog.Logger, handler handlers.ServerInterface, jwtAuth *middleware.JWTAuth) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     NewRouter(logger, handler, jwtAuth),
			ReadTimeout: cfg.HTTPReadTimeout,
			// WriteTimeout 0 — скачивание больших файлов длится дольше любого фиксированного значения
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// NewRouter собирает chi-роутер: метрики, логирование, JWT с исключениями, маршруты API.
func NewRouter(logger *slog.Logger, handler handlers.ServerInterface, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics — для Kubernetes, login и public — без токена.
	// Скачивание файла проверяет JWT или token публичной ссылки в обработчике.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth,
			isPublicDownload,
			"/health/", "/metrics", "/api/v1/auth/login", "/api/v1/public/",
		))
	}

	handlers.HandlerFromMux(handler, router)
	return router
}

// isPublicDownload — GET /api/v1/files/{id}/download.
func isPublicDownload(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/v1/files/")
	if !ok {
		return false
	}
	id, suffix, found := strings.Cut(rest, "/")
	return found && id != "" && suffix == "download"
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, или
// удовлетворяющие skip, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, skip func(*http.Request) bool, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
