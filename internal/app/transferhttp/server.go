package transferhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/config"
	"github.com/sir_venger/file_transfer/internal/usecase/transfer"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

// Сколько формы держать в памяти; остальное уходит во временные файлы.
const multipartMemory = 8 << 20

// Server обслуживает HTTP API поверх движка передачи.
type Server struct {
	svc transfer.Service
	cfg *config.Config
	log zerolog.Logger
}

// NewServer собирает роутер.
func NewServer(cfg *config.Config, svc transfer.Service, log zerolog.Logger) http.Handler {
	s := &Server{
		svc: svc,
		cfg: cfg,
		log: log,
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	r.Route(transferproto.ChunkPath, func(cr chi.Router) {
		cr.Post("/", s.postChunk)
		cr.Get("/", s.checkChunks)
	})
	r.Post(transferproto.MergePath, s.merge)
	r.Get(transferproto.SessionsPath, s.listSessions)
	r.Route(transferproto.SessionsPath+"/{identifier}", func(sr chi.Router) {
		sr.Get("/", s.getSession)
		sr.Delete("/", s.resetSession)
	})

	r.Get(transferproto.HealthPath, s.health)
	r.Post(transferproto.GCPath, s.gcOnce)

	mount := s.cfg.PublicMount
	r.Handle(mount+"/*", http.StripPrefix(mount, downloads(s.cfg.PublishDir)))

	return r
}

// accessLog пишет по строке на запрос.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
