// Package tasks wraps the task provider's OAuth2 flow and REST surface.
// All list/task operations are direct proxies to the provider API with
// response-shape mapping only.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"lifeos/internal/config"
	"lifeos/internal/model"
)

var (
	// ErrNotConfigured means no OAuth client credentials are set.
	ErrNotConfigured = errors.New("tasks: OAuth client not configured")

	// ErrNotAuthenticated means no session exists yet; the caller should
	// start the authorization flow.
	ErrNotAuthenticated = errors.New("tasks: not authenticated")

	// ErrSessionExpired means the session's token expired and cannot be
	// refreshed; the caller must re-run the authorization flow.
	ErrSessionExpired = errors.New("tasks: session expired, re-authentication required")
)

// Provider defaults (Google Tasks shaped).
const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultBaseURL  = "https://tasks.googleapis.com/tasks/v1"

	scopeTasks = "https://www.googleapis.com/auth/tasks"
)

// Session is the explicit authentication state for the task provider: one
// token with a defined expiry. It replaces ad hoc token-presence checks;
// expiry surfaces as ErrSessionExpired from the client methods.
type Session struct {
	Token *oauth2.Token `json:"token"`
}

// Valid reports whether the session can authenticate a request right now,
// either because the token is unexpired or because it can be refreshed.
func (s *Session) Valid() bool {
	if s == nil || s.Token == nil {
		return false
	}
	return s.Token.Valid() || s.Token.RefreshToken != ""
}

// Client talks to the task provider.
type Client struct {
	oauth   oauth2.Config
	baseURL string
}

// NewClient creates a task client from the OAuth configuration.
func NewClient(cfg config.TasksConfig) *Client {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{scopeTasks},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		baseURL: baseURL,
	}
}

// Configured reports whether OAuth client credentials are present.
func (c *Client) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

// AuthURL returns the provider URL to send the user to for authorization.
func (c *Client) AuthURL(state string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for a fresh Session.
func (c *Client) Exchange(ctx context.Context, code string) (*Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("tasks: code exchange: %w", err)
	}
	return &Session{Token: token}, nil
}

// tokenSource returns a refreshing token source for the session, or the
// appropriate session error.
func (c *Client) tokenSource(ctx context.Context, s *Session) (oauth2.TokenSource, error) {
	if s == nil || s.Token == nil {
		return nil, ErrNotAuthenticated
	}
	if !s.Valid() {
		return nil, ErrSessionExpired
	}
	return c.oauth.TokenSource(ctx, s.Token), nil
}

type taskListPayload struct {
	Items []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"items"`
}

type taskPayload struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Notes   string `json:"notes"`
	Due     string `json:"due"`
	Status  string `json:"status"`
	Updated string `json:"updated"`
}

type tasksPayload struct {
	Items []taskPayload `json:"items"`
}

// Lists fetches the user's task lists.
func (c *Client) Lists(ctx context.Context, s *Session) ([]model.TaskList, error) {
	var payload taskListPayload
	if err := c.do(ctx, s, http.MethodGet, "/users/@me/lists", nil, &payload); err != nil {
		return nil, err
	}

	lists := make([]model.TaskList, 0, len(payload.Items))
	for _, item := range payload.Items {
		lists = append(lists, model.TaskList{ID: item.ID, Title: item.Title})
	}
	return lists, nil
}

// Tasks fetches all tasks of one list.
func (c *Client) Tasks(ctx context.Context, s *Session, listID string) ([]model.Task, error) {
	var payload tasksPayload
	path := "/lists/" + listID + "/tasks?showCompleted=true"
	if err := c.do(ctx, s, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	out := make([]model.Task, 0, len(payload.Items))
	for _, item := range payload.Items {
		out = append(out, mapTask(listID, item))
	}
	return out, nil
}

// CreateTask adds a task to a list and returns the created task.
func (c *Client) CreateTask(ctx context.Context, s *Session, listID string, task model.Task) (model.Task, error) {
	body := map[string]any{"title": task.Title}
	if task.Notes != "" {
		body["notes"] = task.Notes
	}
	if task.Due != nil {
		body["due"] = task.Due.Format(time.RFC3339)
	}

	var created taskPayload
	if err := c.do(ctx, s, http.MethodPost, "/lists/"+listID+"/tasks", body, &created); err != nil {
		return model.Task{}, err
	}
	return mapTask(listID, created), nil
}

// UpdateTask patches a task's title/notes/completion state.
func (c *Client) UpdateTask(ctx context.Context, s *Session, listID string, task model.Task) (model.Task, error) {
	body := map[string]any{
		"title": task.Title,
		"notes": task.Notes,
	}
	if task.Completed {
		body["status"] = "completed"
	} else {
		body["status"] = "needsAction"
	}
	if task.Due != nil {
		body["due"] = task.Due.Format(time.RFC3339)
	}

	var updated taskPayload
	if err := c.do(ctx, s, http.MethodPatch, "/lists/"+listID+"/tasks/"+task.ID, body, &updated); err != nil {
		return model.Task{}, err
	}
	return mapTask(listID, updated), nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, s *Session, listID, taskID string) error {
	return c.do(ctx, s, http.MethodDelete, "/lists/"+listID+"/tasks/"+taskID, nil, nil)
}

func (c *Client) do(ctx context.Context, s *Session, method, path string, body any, out any) error {
	ts, err := c.tokenSource(ctx, s)
	if err != nil {
		return err
	}
	client := oauth2.NewClient(ctx, ts)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("tasks: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// A transparent refresh may have rotated the token; the session must
	// carry the new one so callers can persist it.
	if fresh, tokErr := ts.Token(); tokErr == nil && fresh.AccessToken != s.Token.AccessToken {
		s.Token = fresh
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tasks: %s %s: unexpected status %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapTask(listID string, p taskPayload) model.Task {
	task := model.Task{
		ID:        p.ID,
		ListID:    listID,
		Title:     p.Title,
		Notes:     p.Notes,
		Completed: p.Status == "completed",
	}
	if t, err := time.Parse(time.RFC3339, p.Due); err == nil {
		task.Due = &t
	}
	if t, err := time.Parse(time.RFC3339, p.Updated); err == nil {
		task.Updated = t
	}
	return task
}
