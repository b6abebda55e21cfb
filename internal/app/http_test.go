package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"noteflow/api/internal/history"
	"noteflow/api/internal/sharing"
	"noteflow/api/internal/store"
)

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path  string
		parts []string
		ok    bool
	}{
		{"/api/notes/note_1", []string{"note_1"}, true},
		{"/api/notes/note_1/share", []string{"note_1", "share"}, true},
		{"/api/notes", nil, false},
		{"/api/notes//share", nil, false},
		{"/api/users/u1", nil, false},
	}
	for _, tc := range cases {
		parts, ok := splitPath(tc.path, "/api/notes")
		if ok != tc.ok {
			t.Fatalf("splitPath(%q) ok = %v, want %v", tc.path, ok, tc.ok)
		}
		if len(parts) != len(tc.parts) {
			t.Fatalf("splitPath(%q) = %v, want %v", tc.path, parts, tc.parts)
		}
		for i := range parts {
			if parts[i] != tc.parts[i] {
				t.Fatalf("splitPath(%q) = %v, want %v", tc.path, parts, tc.parts)
			}
		}
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	if got := bearerToken(r); got != "" {
		t.Fatalf("no header should yield empty token, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(r); got != "abc123" {
		t.Fatalf("bearerToken = %q, want abc123", got)
	}
	r.Header.Set("Authorization", "Basic abc123")
	if got := bearerToken(r); got != "" {
		t.Fatalf("non-bearer scheme should yield empty token, got %q", got)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{sql.ErrNoRows, http.StatusNotFound, "NOT_FOUND"},
		{sharing.ErrInvalidRole, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{sharing.ErrSelfShare, http.StatusConflict, "INVALID_STATE"},
		{sharing.ErrNotShared, http.StatusConflict, "INVALID_STATE"},
		{permissionError("nope"), http.StatusForbidden, "FORBIDDEN"},
		{conflictError("dup"), http.StatusConflict, "CONFLICT"},
	}
	for _, tc := range cases {
		mapped := mapError(tc.err)
		if mapped.Status != tc.status || mapped.Code != tc.code {
			t.Fatalf("mapError(%v) = %d/%s, want %d/%s", tc.err, mapped.Status, mapped.Code, tc.status, tc.code)
		}
	}
}

func TestRoutesRejectUnauthenticated(t *testing.T) {
	svc := newTestService(&fakeStore{}, &recorderBus{})
	server := NewServer(svc, "*")
	handler := server.Handler()

	for _, path := range []string{"/api/notes", "/api/search?q=x", "/api/session"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s = %d, want 401", path, rec.Code)
		}
	}
}

func TestHealthAndCORS(t *testing.T) {
	svc := newTestService(&fakeStore{}, &recorderBus{})
	handler := NewServer(svc, "https://app.example.com").Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("CORS origin = %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/notes", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d, want 204", rec.Code)
	}
}

func TestNoteRoutesEndToEnd(t *testing.T) {
	note := testNote()
	users := map[string]store.User{alice.ID: alice, bob.ID: bob, carol.ID: carol}
	fake := &fakeStore{
		getNote: func(ctx context.Context, id string) (store.Note, error) {
			if id != note.ID {
				return store.Note{}, sql.ErrNoRows
			}
			return note, nil
		},
		getUserByID: func(ctx context.Context, id string) (store.User, error) {
			u, ok := users[id]
			if !ok {
				return store.User{}, sql.ErrNoRows
			}
			return u, nil
		},
		getUserByEmail: func(ctx context.Context, email string) (store.User, error) {
			for _, u := range users {
				if u.Email == email {
					return u, nil
				}
			}
			return store.User{}, sql.ErrNoRows
		},
		getUsersByIDs: func(ctx context.Context, ids []string) (map[string]store.User, error) {
			return users, nil
		},
	}
	svc := newTestService(fake, &recorderBus{})
	svc.history = &fakeHistory{
		getRevision: func(noteID, hash string) (history.Snapshot, history.Revision, error) {
			if noteID != note.ID || hash != "abc1234" {
				return history.Snapshot{}, history.Revision{}, errors.New("no such revision")
			}
			return history.Snapshot{Title: "Plan", Content: "v1"}, history.Revision{Hash: "abc1234"}, nil
		},
	}
	handler := NewServer(svc, "*").Handler()

	session, err := svc.issueSession(context.Background(), alice)
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/notes/"+note.ID, nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get note = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["title"] != "Plan" {
		t.Fatalf("title = %v, want Plan", body["title"])
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notes/nope", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing note = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/notes/"+note.ID+"/share",
		strings.NewReader(`{"email":"carol@example.com","role":"admin"}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid role = %d, want 422", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notes/"+note.ID+"/history/abc1234", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get revision = %d, body %s", rec.Code, rec.Body.String())
	}
	body = map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode revision body: %v", err)
	}
	if body["content"] != "v1" {
		t.Fatalf("revision content = %v, want v1", body["content"])
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notes/"+note.ID+"/history/ffffff0", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown revision = %d, want 404", rec.Code)
	}
}
