package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"flarebin/internal/auth"
)

// NewRouter собирает публичный HTTP API.
// Скачивание открыто всем (защищённые файлы проверяют ?token=), остальное за паролем.
func NewRouter(logger zerolog.Logger, authConfig auth.Config, files *FileHandler, multipart *MultipartHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "Range",
			"If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since",
			headerFileID, headerTTL, headerToken, headerFilename,
		},
		ExposedHeaders: []string{"Content-Range", "Accept-Ranges", "Content-Length", "Content-Disposition", "ETag"},
		MaxAge:         300,
	}))

	r.Get("/", files.Usage)
	r.Get("/{fileID}", files.Download)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authConfig))

		r.Post("/", files.PostUpload)
		// сегмент пути здесь: имя файла по умолчанию
		r.Put("/{fileID}", files.PutUpload)
		r.Delete("/{fileID}", files.Delete)

		r.Get("/list", files.List)
		r.Post("/clean", files.Clean)

		r.Post("/multipart/start", multipart.Start)
		r.Post("/multipart", multipart.UploadPart)
		r.Post("/multipart/complete", multipart.Complete)
		r.Post("/multipart/abort", multipart.Abort)
	})

	return r
}

// HealthCheck проверяет одну зависимость для /healthz
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewMetricsRouter собирает служебный listener с /metrics и /healthz
func NewMetricsRouter(checks ...HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				log.Warn().Err(err).Str("check", hc.Name).Msg("Health check failed")
				http.Error(w, hc.Name+": unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "OK")
	})

	return r
}
