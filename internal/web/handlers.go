package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lifeos/internal/ical"
	"lifeos/internal/logging"
	"lifeos/internal/model"
	"lifeos/internal/palette"
	"lifeos/internal/quote"
	"lifeos/internal/settings"
	"lifeos/internal/tasks"
	"lifeos/internal/weather"
)

// widgetResponse is the common envelope for widget endpoints. Stale is set
// when a refresh failed and the payload is the previous cached value.
type widgetResponse[T any] struct {
	Data      T         `json:"data"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// serveWidget resolves a widget payload through its cache and writes the
// response. Upstream failures with no cached fallback become 502; a failure
// with a cached value serves the stale payload next to the error.
func serveWidget[T any](w http.ResponseWriter, cache *widgetCache[T], fetch func() (T, error)) {
	value, at, err := cache.get(fetch)
	if err != nil {
		_, has, _ := cache.snapshot()
		if !has {
			status := http.StatusBadGateway
			if errors.Is(err, errRefreshInFlight) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse[T]{Data: value, FetchedAt: at, Stale: true, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, widgetResponse[T]{Data: value, FetchedAt: at})
}

// --- Calendar ---

type calendarData struct {
	Events     []model.Event    `json:"events"`
	Errors     []ical.FeedError `json:"errors,omitempty"`
	RangeStart time.Time        `json:"range_start"`
	RangeEnd   time.Time        `json:"range_end"`
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	serveWidget(w, s.calendarCache, func() (calendarData, error) {
		return s.fetchCalendar(r.Context())
	})
}

func (s *Server) fetchCalendar(ctx context.Context) (calendarData, error) {
	doc, err := s.store.Load()
	if err != nil {
		return calendarData{}, fmt.Errorf("loading settings: %w", err)
	}

	feeds := make([]ical.Feed, 0, len(doc.CalendarFeeds))
	for _, f := range doc.CalendarFeeds {
		feeds = append(feeds, ical.Feed{
			ID:    f.ID.String(),
			URL:   f.URL,
			Label: f.Label,
			Color: f.Color,
		})
	}

	winStart, winEnd := s.normalizer.Window()
	events, feedErrs := s.normalizer.NormalizeAll(ctx, feeds, palette.NewCursor())
	if events == nil {
		events = []model.Event{}
	}
	data := calendarData{
		Events:     events,
		Errors:     feedErrs,
		RangeStart: winStart,
		RangeEnd:   winEnd,
	}
	hard := 0
	for _, fe := range feedErrs {
		if !fe.Stale {
			hard++
		}
	}
	if len(feeds) > 0 && hard == len(feeds) {
		return data, fmt.Errorf("all %d calendar feeds failed", len(feeds))
	}
	return data, nil
}

// --- Weather ---

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serveWidget(w, s.weatherCache, func() (model.WeatherReport, error) {
		return s.weather.Fetch(ctx)
	})
}

// --- Quotes ---

type quotesData struct {
	Holdings []model.HoldingValue `json:"holdings"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serveWidget(w, s.quotesCache, func() (quotesData, error) {
		return s.fetchQuotes(ctx)
	})
}

func (s *Server) fetchQuotes(ctx context.Context) (quotesData, error) {
	doc, err := s.store.Load()
	if err != nil {
		return quotesData{}, fmt.Errorf("loading settings: %w", err)
	}
	values, err := s.quotes.Valuations(ctx, doc.Holdings)
	if err != nil {
		if errors.Is(err, quote.ErrMissingAPIKey) {
			return quotesData{}, err
		}
		return quotesData{}, fmt.Errorf("portfolio valuation: %w", err)
	}
	return quotesData{Holdings: values}, nil
}

// --- News ---

type newsFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type newsData struct {
	Feeds  []model.NewsFeed `json:"feeds"`
	Errors []newsFailure    `json:"errors,omitempty"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serveWidget(w, s.newsCache, func() (newsData, error) {
		return s.fetchNews(ctx)
	})
}

// fetchNews fetches every configured RSS feed concurrently. One broken feed
// never hides the rest; its failure is reported per URL.
func (s *Server) fetchNews(ctx context.Context) (newsData, error) {
	doc, err := s.store.Load()
	if err != nil {
		return newsData{}, fmt.Errorf("loading settings: %w", err)
	}

	results := make([]model.NewsFeed, len(doc.NewsFeeds))
	failures := make([]error, len(doc.NewsFeeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, url := range doc.NewsFeeds {
		i, url := i, url
		g.Go(func() error {
			feed, err := s.news.Fetch(gctx, url)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = feed
			return nil
		})
	}
	_ = g.Wait()

	data := newsData{Feeds: make([]model.NewsFeed, 0, len(results))}
	failed := 0
	for i, url := range doc.NewsFeeds {
		if failures[i] != nil {
			failed++
			data.Errors = append(data.Errors, newsFailure{URL: url, Error: failures[i].Error()})
			continue
		}
		data.Feeds = append(data.Feeds, results[i])
	}
	if len(doc.NewsFeeds) > 0 && failed == len(doc.NewsFeeds) {
		return data, fmt.Errorf("all %d news feeds failed", failed)
	}
	return data, nil
}

// --- Tasks ---

type tasksData struct {
	Lists []model.TaskList `json:"lists"`
	Tasks []model.Task     `json:"tasks"`
}

// taskSession builds the provider session from the persisted token.
func (s *Server) taskSession() (*tasks.Session, settings.Settings, error) {
	doc, err := s.store.Load()
	if err != nil {
		return nil, doc, fmt.Errorf("loading settings: %w", err)
	}
	if doc.TaskToken == nil {
		return nil, doc, tasks.ErrNotAuthenticated
	}
	return &tasks.Session{Token: doc.TaskToken}, doc, nil
}

// persistRefreshedToken writes the session token back to the settings store
// when a provider call transparently refreshed it. Providers may rotate the
// refresh token, so dropping the new one would invalidate the stored session.
func (s *Server) persistRefreshedToken(doc settings.Settings, session *tasks.Session) {
	if session == nil || session.Token == nil || doc.TaskToken == nil {
		return
	}
	if session.Token.AccessToken == doc.TaskToken.AccessToken &&
		session.Token.RefreshToken == doc.TaskToken.RefreshToken {
		return
	}
	doc.TaskToken = session.Token
	if err := s.store.Save(doc); err != nil {
		logging.Error("failed to persist refreshed task token", err)
	}
}

// isAuthError reports whether err should surface as 401 to the UI, which
// reacts by starting the authorization flow again.
func isAuthError(err error) bool {
	return errors.Is(err, tasks.ErrNotAuthenticated) || errors.Is(err, tasks.ErrSessionExpired)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, at, err := s.tasksCache.get(func() (tasksData, error) {
		return s.fetchTasks(ctx)
	})
	if err != nil {
		if isAuthError(err) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		_, has, _ := s.tasksCache.snapshot()
		if !has {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, widgetResponse[tasksData]{Data: data, FetchedAt: at, Stale: true, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, widgetResponse[tasksData]{Data: data, FetchedAt: at})
}

func (s *Server) fetchTasks(ctx context.Context) (tasksData, error) {
	session, doc, err := s.taskSession()
	if err != nil {
		return tasksData{}, err
	}
	defer s.persistRefreshedToken(doc, session)

	lists, err := s.tasks.Lists(ctx, session)
	if err != nil {
		return tasksData{}, err
	}
	data := tasksData{Lists: lists, Tasks: []model.Task{}}
	if len(lists) == 0 {
		return data, nil
	}

	listID := doc.Tasks.ListID
	if listID == "" {
		listID = lists[0].ID
	}
	items, err := s.tasks.Tasks(ctx, session, listID)
	if err != nil {
		return tasksData{}, err
	}
	for _, task := range items {
		if task.Completed && !doc.Tasks.ShowCompleted {
			continue
		}
		data.Tasks = append(data.Tasks, task)
	}
	return data, nil
}

// taskRequest is the JSON body for task create/update.
type taskRequest struct {
	Title     string     `json:"title"`
	Notes     string     `json:"notes"`
	Due       *time.Time `json:"due"`
	Completed bool       `json:"completed"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	session, doc, err := s.taskSession()
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	defer s.persistRefreshedToken(doc, session)
	created, err := s.tasks.CreateTask(r.Context(), session, listID, model.Task{
		Title: req.Title,
		Notes: req.Notes,
		Due:   req.Due,
	})
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.tasksCache.invalidate()
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	taskID := chi.URLParam(r, "taskID")

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, doc, err := s.taskSession()
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	defer s.persistRefreshedToken(doc, session)
	updated, err := s.tasks.UpdateTask(r.Context(), session, listID, model.Task{
		ID:        taskID,
		Title:     req.Title,
		Notes:     req.Notes,
		Due:       req.Due,
		Completed: req.Completed,
	})
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.tasksCache.invalidate()
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	taskID := chi.URLParam(r, "taskID")

	session, doc, err := s.taskSession()
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	defer s.persistRefreshedToken(doc, session)
	if err := s.tasks.DeleteTask(r.Context(), session, listID, taskID); err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.tasksCache.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	if isAuthError(err) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	logging.Error("task provider request failed", err)
	writeError(w, http.StatusBadGateway, err.Error())
}

// --- OAuth flow ---

func (s *Server) handleTasksAuthURL(w http.ResponseWriter, _ *http.Request) {
	state := uuid.NewString()
	u, err := s.tasks.AuthURL(state)
	if err != nil {
		if errors.Is(err, tasks.ErrNotConfigured) {
			writeError(w, http.StatusConflict, "task provider OAuth client is not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.stateMu.Lock()
	s.oauthState = state
	s.stateMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"url": u, "state": state})
}

func (s *Server) handleTasksAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	s.stateMu.Lock()
	expected := s.oauthState
	s.oauthState = ""
	s.stateMu.Unlock()
	if expected == "" || state != expected {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	session, err := s.tasks.Exchange(r.Context(), code)
	if err != nil {
		logging.Error("OAuth code exchange failed", err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}

	doc, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	doc.TaskToken = session.Token
	if err := s.store.Save(doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.tasksCache.invalidate()
	logging.Info("task provider authorized")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var doc settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateSettings(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Save(doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The stored document carries IDs assigned on save.
	saved, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.calendarCache.invalidate()
	s.newsCache.invalidate()
	s.quotesCache.invalidate()
	s.tasksCache.invalidate()
	writeJSON(w, http.StatusOK, saved)
}

func validateSettings(doc settings.Settings) error {
	for i, feed := range doc.CalendarFeeds {
		if feed.URL == "" {
			return fmt.Errorf("calendar feed %d: url is required", i)
		}
		if feed.Color != "" && !palette.Valid(feed.Color) {
			return fmt.Errorf("calendar feed %d: invalid color %q", i, feed.Color)
		}
	}
	for i, url := range doc.NewsFeeds {
		if url == "" {
			return fmt.Errorf("news feed %d: url is required", i)
		}
	}
	for i, h := range doc.Holdings {
		if h.Symbol == "" {
			return fmt.Errorf("holding %d: symbol is required", i)
		}
	}
	if doc.AccentColor != "" && !palette.Valid(doc.AccentColor) {
		return fmt.Errorf("invalid accent color %q", doc.AccentColor)
	}
	return nil
}

// --- Refresh loop entry point ---

// Refresh re-warms the widget caches. It is called from the cron loop; caches
// already being refreshed by an HTTP request are skipped, not queued.
func (s *Server) Refresh(ctx context.Context) {
	if _, _, err := s.calendarCache.get(func() (calendarData, error) {
		return s.fetchCalendar(ctx)
	}); err != nil && !errors.Is(err, errRefreshInFlight) {
		logging.Warn("calendar refresh failed", "err", err)
	}

	if _, _, err := s.weatherCache.get(func() (model.WeatherReport, error) {
		return s.weather.Fetch(ctx)
	}); err != nil && !errors.Is(err, errRefreshInFlight) && !errors.Is(err, weather.ErrMissingAPIKey) {
		logging.Warn("weather refresh failed", "err", err)
	}

	if _, _, err := s.quotesCache.get(func() (quotesData, error) {
		return s.fetchQuotes(ctx)
	}); err != nil && !errors.Is(err, errRefreshInFlight) && !errors.Is(err, quote.ErrMissingAPIKey) {
		logging.Warn("quotes refresh failed", "err", err)
	}

	if _, _, err := s.newsCache.get(func() (newsData, error) {
		return s.fetchNews(ctx)
	}); err != nil && !errors.Is(err, errRefreshInFlight) {
		logging.Warn("news refresh failed", "err", err)
	}

	if _, _, err := s.tasksCache.get(func() (tasksData, error) {
		return s.fetchTasks(ctx)
	}); err != nil && !errors.Is(err, errRefreshInFlight) && !isAuthError(err) {
		logging.Warn("tasks refresh failed", "err", err)
	}
}
