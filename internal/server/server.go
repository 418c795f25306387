// Пакет server: HTTP-сервер docgate с graceful shutdown.
// Без TLS: TLS termination на reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/api/handlers"
	"github.com/bigkaa/docgate/internal/api/middleware"
	"github.com/bigkaa/docgate/internal/config"
)

// Auth: middleware авторизации групп маршрутов.
type Auth struct {
	// Uploader: upload JWT (/api/s3/upload/*, /api/s3/files/*)
	Uploader func(http.Handler) http.Handler
	// Store: Bearer DG_TOKEN (/api/s3/webhook)
	Store func(http.Handler) http.Handler
	// Site: Bearer DG_SITE_TOKEN (/api/file/*)
	Site func(http.Handler) http.Handler
}

// Server: HTTP-сервер docgate.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter собирает маршруты docgate.
// middlewares: глобальные middleware (metrics, logging, CORS), в порядке переданного среза.
func NewRouter(h *handlers.APIHandler, auth Auth, middlewares ...func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}
	// HEAD обслуживается GET-маршрутами (в частности /files/*)
	router.Use(chimw.GetHead)

	// Health и metrics: без авторизации
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Get("/files/*", h.ServeFile)

	router.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Get("/ip", h.ClientIP)
		r.Get("/rank", h.Rank)
		r.Post("/login", h.Login)

		r.Route("/s3", func(r chi.Router) {
			r.With(auth.Store).Post("/webhook", h.StoreWebhook)

			r.Group(func(r chi.Router) {
				r.Use(auth.Uploader)
				r.Post("/upload/mpu-start", h.StartUpload)
				r.Put("/upload/mpu-uploadpart", h.UploadPart)
				r.Post("/upload/mpu-complete", h.CompleteUpload)
				r.Delete("/upload/mpu-abort", h.AbortUpload)
				r.With(middleware.RequireDownload).Get("/files/*", h.DownloadDirect)
			})
		})

		r.Route("/file", func(r chi.Router) {
			r.Use(auth.Site)
			r.Get("/notPublished", h.ListUnpublished)
			r.Post("/publish", h.Publish)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			apierrors.NotFound(w, "API Not Found")
		})
	})

	return router
}

// New создаёт HTTP-сервер с готовым handler.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext запускает сервер и останавливает его при отмене ctx.
func (s *Server) RunContext(ctx context.Context) error {
	// Канал для ошибок сервера
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

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
