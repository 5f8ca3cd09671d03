// Package web provides the dashboard HTTP API: widget endpoints backed by
// TTL caches, the settings document, and the task-provider OAuth flow.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lifeos/internal/config"
	"lifeos/internal/ical"
	"lifeos/internal/logging"
	"lifeos/internal/model"
	"lifeos/internal/quote"
	"lifeos/internal/rss"
	"lifeos/internal/settings"
	"lifeos/internal/tasks"
	"lifeos/internal/weather"
)

// errRefreshInFlight is returned when a cache has no value yet and another
// request is already refreshing it.
var errRefreshInFlight = errors.New("refresh already in flight")

// Cache TTLs per widget. The cron refresh loop re-warms these, so HTTP
// requests mostly hit the fast path.
const (
	calendarCacheTTL = 5 * time.Minute
	weatherCacheTTL  = 10 * time.Minute
	quotesCacheTTL   = 5 * time.Minute
	newsCacheTTL     = 10 * time.Minute
	tasksCacheTTL    = time.Minute
)

// Server provides the dashboard HTTP API.
type Server struct {
	cfg        *config.Config
	store      *settings.Store
	normalizer *ical.Normalizer
	weather    *weather.Client
	quotes     *quote.Client
	news       *rss.Client
	tasks      *tasks.Client
	router     chi.Router

	calendarCache *widgetCache[calendarData]
	weatherCache  *widgetCache[model.WeatherReport]
	quotesCache   *widgetCache[quotesData]
	newsCache     *widgetCache[newsData]
	tasksCache    *widgetCache[tasksData]

	// oauthState is the pending OAuth state parameter; one authorization
	// flow at a time is plenty for a single-user dashboard.
	stateMu    sync.Mutex
	oauthState string
}

// NewServer constructs the dashboard server.
func NewServer(cfg *config.Config, store *settings.Store, normalizer *ical.Normalizer) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		normalizer: normalizer,
		weather:    weather.NewClient(cfg.Weather),
		quotes:     quote.NewClient(cfg.Quote),
		news:       rss.NewClient(),
		tasks:      tasks.NewClient(cfg.Tasks),

		calendarCache: newWidgetCache[calendarData](calendarCacheTTL),
		weatherCache:  newWidgetCache[model.WeatherReport](weatherCacheTTL),
		quotesCache:   newWidgetCache[quotesData](quotesCacheTTL),
		newsCache:     newWidgetCache[newsData](newsCacheTTL),
		tasksCache:    newWidgetCache[tasksData](tasksCacheTTL),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/calendar", s.handleCalendar)
		r.Get("/weather", s.handleWeather)
		r.Get("/quotes", s.handleQuotes)
		r.Get("/news", s.handleNews)

		r.Get("/tasks", s.handleTasks)
		r.Post("/tasks/{listID}", s.handleCreateTask)
		r.Patch("/tasks/{listID}/{taskID}", s.handleUpdateTask)
		r.Delete("/tasks/{listID}/{taskID}", s.handleDeleteTask)

		r.Get("/tasks/auth/url", s.handleTasksAuthURL)
		r.Get("/tasks/auth/callback", s.handleTasksAuthCallback)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	s.router = r
}

// Handler returns the server's http.Handler, wrapped with basic auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		logging.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="LifeOS", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
