package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"lifeos/internal/config"
	"lifeos/internal/model"
)

func liveSession() *Session {
	return &Session{Token: &oauth2.Token{
		AccessToken: "test-token",
		Expiry:      time.Now().Add(time.Hour),
	}}
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.TasksConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/api/tasks/auth/callback",
		BaseURL:      baseURL,
	})
}

func TestSessionValid(t *testing.T) {
	var nilSession *Session
	if nilSession.Valid() {
		t.Error("nil session reported valid")
	}
	if (&Session{}).Valid() {
		t.Error("tokenless session reported valid")
	}
	if !liveSession().Valid() {
		t.Error("unexpired session reported invalid")
	}

	expired := &Session{Token: &oauth2.Token{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}}
	if expired.Valid() {
		t.Error("expired session without refresh token reported valid")
	}

	expired.Token.RefreshToken = "refresh"
	if !expired.Valid() {
		t.Error("refreshable session reported invalid")
	}
}

func TestListsRequiresSession(t *testing.T) {
	client := newTestClient("http://unused.invalid")

	_, err := client.Lists(context.Background(), nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("nil session: got %v, want ErrNotAuthenticated", err)
	}

	expired := &Session{Token: &oauth2.Token{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}}
	_, err = client.Lists(context.Background(), expired)
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expired session: got %v, want ErrSessionExpired", err)
	}
}

func TestListsMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me/lists" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"list-1","title":"Errands"},{"id":"list-2","title":"Work"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	lists, err := client.Lists(context.Background(), liveSession())
	if err != nil {
		t.Fatalf("Lists: %v", err)
	}
	if len(lists) != 2 {
		t.Fatalf("got %d lists, want 2", len(lists))
	}
	if lists[0].ID != "list-1" || lists[0].Title != "Errands" {
		t.Errorf("first list = %+v", lists[0])
	}
}

func TestTasksMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lists/list-1/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("showCompleted") != "true" {
			t.Error("showCompleted not requested")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"id":"t1","title":"Buy milk","notes":"2% please","due":"2026-09-02T00:00:00Z","status":"needsAction","updated":"2026-08-30T10:00:00Z"},
			{"id":"t2","title":"File taxes","status":"completed","updated":"2026-08-29T09:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	tasks, err := client.Tasks(context.Background(), liveSession(), "list-1")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}

	first := tasks[0]
	if first.ID != "t1" || first.ListID != "list-1" || first.Title != "Buy milk" || first.Notes != "2% please" {
		t.Errorf("first task = %+v", first)
	}
	if first.Completed {
		t.Error("needsAction task marked completed")
	}
	if first.Due == nil || !first.Due.Equal(time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first task due = %v", first.Due)
	}

	second := tasks[1]
	if !second.Completed {
		t.Error("completed task not marked completed")
	}
	if second.Due != nil {
		t.Errorf("task without due date got %v", second.Due)
	}
}

func TestCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/lists/list-1/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["title"] != "Water plants" {
			t.Errorf("title = %v", body["title"])
		}
		if _, ok := body["due"]; ok {
			t.Error("due sent for task without due date")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"t9","title":"Water plants","status":"needsAction","updated":"2026-08-31T08:00:00Z"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	created, err := client.CreateTask(context.Background(), liveSession(), "list-1", model.Task{Title: "Water plants"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID != "t9" || created.ListID != "list-1" {
		t.Errorf("created = %+v", created)
	}
}

func TestUpdateTaskCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/lists/list-1/tasks/t1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["status"] != "completed" {
			t.Errorf("status = %v", body["status"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"t1","title":"Buy milk","status":"completed","updated":"2026-08-31T12:00:00Z"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	updated, err := client.UpdateTask(context.Background(), liveSession(), "list-1", model.Task{
		ID:        "t1",
		Title:     "Buy milk",
		Completed: true,
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !updated.Completed {
		t.Error("updated task not completed")
	}
}

func TestDeleteTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/lists/list-1/tasks/t1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if err := client.DeleteTask(context.Background(), liveSession(), "list-1", "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
}

func TestTransparentRefreshUpdatesSession(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"rotated","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated-refresh"}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer rotated" {
			t.Errorf("Authorization = %q, want the refreshed token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	}))
	defer apiSrv.Close()

	client := NewClient(config.TasksConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenSrv.URL,
		BaseURL:      apiSrv.URL,
	})

	session := &Session{Token: &oauth2.Token{
		AccessToken:  "expired-token",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}}

	if _, err := client.Lists(context.Background(), session); err != nil {
		t.Fatalf("Lists: %v", err)
	}
	if session.Token.AccessToken != "rotated" {
		t.Errorf("session access token = %q, want the refreshed one", session.Token.AccessToken)
	}
	if session.Token.RefreshToken != "rotated-refresh" {
		t.Errorf("session refresh token = %q, want the rotated one", session.Token.RefreshToken)
	}
}

func TestUnauthorizedBecomesSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Lists(context.Background(), liveSession())
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("got %v, want ErrSessionExpired", err)
	}
}

func TestAuthURLRequiresCredentials(t *testing.T) {
	client := NewClient(config.TasksConfig{})
	if _, err := client.AuthURL("state-1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}

	client = newTestClient("")
	u, err := client.AuthURL("state-1")
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	if u == "" {
		t.Fatal("empty auth URL")
	}
}
