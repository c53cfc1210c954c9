package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franckalain/freshness/internal/chat"
	"github.com/franckalain/freshness/internal/config"
	"github.com/franckalain/freshness/internal/logging"
	"github.com/franckalain/freshness/internal/ml"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 3 * time.Second
)

type Server struct {
	cfg      *config.Config
	model    ml.Model
	logger   *zap.Logger
	upgrader websocket.Upgrader
	sessions sync.Map // id -> *session
	active   atomic.Int64
	router   chi.Router
}

func New(cfg *config.Config, model ml.Model, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		model:  model,
		logger: logging.OrNop(logger).Named("server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes mounted
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Post("/api/ask", s.handleAsk)

	// Serve static files
	r.Handle("/*", http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not tracked by Shutdown
		s.closeSessions()
		return err
	})
	return g.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(conn, s.cfg, s.model, s.logger)
	s.sessions.Store(sess.id, sess)
	s.active.Add(1)
	defer func() {
		s.sessions.Delete(sess.id)
		s.active.Add(-1)
	}()

	sess.run()
}

func (s *Server) closeSessions() {
	s.sessions.Range(func(_, value any) bool {
		value.(*session).conn.Close()
		return true
	})
}

// ActiveSessions returns the number of connected websocket clients
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

type healthResponse struct {
	Status          string `json:"status"`
	Sessions        int64  `json:"sessions"`
	Classifier      any    `json:"classifier,omitempty"`
	ClassifierError string `json:"classifier_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Sessions: s.ActiveSessions()}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if health, err := s.model.Health(ctx); err != nil {
		resp.ClassifierError = err.Error()
	} else {
		resp.Classifier = health
	}
	writeJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
	Topic  string `json:"topic,omitempty"`
}

// handleAsk answers a single question without any session state
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resp := askResponse{Answer: chat.DefaultResponse}
	if rule, ok := chat.DefaultRules.Match(req.Question); ok {
		resp.Answer = rule.Response
		resp.Topic = rule.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.Server.AllowedOrigins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
