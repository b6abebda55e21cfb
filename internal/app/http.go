package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"noteflow/api/internal/access"
	"noteflow/api/internal/auth"
	"noteflow/api/internal/authpw"
	"noteflow/api/internal/sharing"
	"noteflow/api/internal/store"
	"noteflow/api/internal/util"
)

type Server struct {
	svc        *Service
	corsOrigin string
}

func NewServer(svc *Service, corsOrigin string) *Server {
	return &Server{svc: svc, corsOrigin: corsOrigin}
}

func (s *Server) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// handle dispatches every API route. Routes above the session lookup are
// public; everything below requires a valid bearer token.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := strings.TrimSuffix(r.URL.Path, "/")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	if r.Method == http.MethodGet && path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && path == "/api/session/refresh" {
		s.handleRefresh(w, r)
		return
	}

	session, err := s.svc.SessionFromToken(ctx, bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
		return
	}
	actor := store.User{ID: session.UserID, Username: session.Username, Email: session.Email}

	if r.Method == http.MethodGet && path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":    session.UserID,
			"username":  session.Username,
			"email":     session.Email,
			"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		})
		return
	}
	if r.Method == http.MethodPost && path == "/api/session/logout" {
		s.handleLogout(w, r, session)
		return
	}

	if r.Method == http.MethodGet && path == "/api/search" {
		s.handleSearch(w, r, actor)
		return
	}

	if path == "/api/notes" {
		switch r.Method {
		case http.MethodGet:
			s.handleListNotes(w, r, actor)
		case http.MethodPost:
			s.handleCreateNote(w, r, actor)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}
		return
	}

	if parts, ok := splitPath(path, "/api/notes"); ok {
		s.handleNote(w, r, actor, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request, actor store.User, parts []string) {
	ctx := r.Context()
	noteID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			note, err := s.svc.GetNoteByID(ctx, actor, noteID)
			s.respond(w, note, err)
		case http.MethodPut, http.MethodPatch:
			var input UpdateNoteInput
			if !decodeBody(w, r, &input) {
				return
			}
			note, err := s.svc.UpdateNote(ctx, actor, noteID, input)
			s.respond(w, note, err)
		case http.MethodDelete:
			if err := s.svc.DeleteNote(ctx, actor, noteID); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "noteId": noteID})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet && parts[1] == "history" {
		result, err := s.svc.NoteRevision(ctx, actor, noteID, parts[2])
		s.respond(w, result, err)
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
		return
	}

	switch {
	case r.Method == http.MethodPost && parts[1] == "share":
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		note, err := s.svc.ShareNote(ctx, actor, noteID, body.Email, body.Role)
		s.respond(w, note, err)

	case r.Method == http.MethodPost && parts[1] == "unshare":
		var body struct {
			UserID string `json:"userId"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		note, err := s.svc.UnshareNote(ctx, actor, noteID, body.UserID)
		s.respond(w, note, err)

	case r.Method == http.MethodPost && parts[1] == "archive":
		note, err := s.svc.SetArchived(ctx, actor, noteID, true)
		s.respond(w, note, err)

	case r.Method == http.MethodPost && parts[1] == "unarchive":
		note, err := s.svc.SetArchived(ctx, actor, noteID, false)
		s.respond(w, note, err)

	case r.Method == http.MethodGet && parts[1] == "history":
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		result, err := s.svc.NoteHistory(ctx, actor, noteID, limit)
		s.respond(w, result, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok"}
	status := http.StatusOK
	if err := s.svc.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.svc.SignUp(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.svc.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	// Body is optional; logout without it still revokes the access token.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.svc.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request, actor store.User) {
	includeArchived := r.URL.Query().Get("includeArchived") == "true"

	var (
		notes []map[string]any
		err   error
	)
	switch r.URL.Query().Get("scope") {
	case "", "all":
		notes, err = s.svc.ListAllNotes(r.Context(), actor, includeArchived)
	case "mine":
		notes, err = s.svc.ListMyNotes(r.Context(), actor, includeArchived)
	case "shared":
		notes, err = s.svc.ListSharedWithMe(r.Context(), actor, includeArchived)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scope must be one of all, mine, shared")
		return
	}
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request, actor store.User) {
	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	note, err := s.svc.CreateNote(r.Context(), actor, body.Title, body.Content)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, actor store.User) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	resp, err := s.svc.SearchNotes(r.Context(), actor, q.Get("q"), q.Get("includeArchived") == "true", limit, offset)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ---- middleware ----

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		s.setCORSHeaders(w)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		entry, _ := json.Marshal(map[string]any{
			"time":      start.UTC().Format(time.RFC3339),
			"requestId": requestID,
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    recorder.status,
			"durMs":     time.Since(start).Milliseconds(),
		})
		log.Println(string(entry))
	})
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

// ---- helpers ----

func sessionResponse(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"username":     session.Username,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Format(time.RFC3339),
	}
}

// splitPath returns the segments after prefix, or ok=false when path is not
// under prefix. Empty segments never appear; trailing slashes are trimmed by
// the dispatcher.
func splitPath(path, prefix string) ([]string, bool) {
	if !strings.HasPrefix(path, prefix+"/") {
		return nil, false
	}
	rest := strings.TrimPrefix(path, prefix+"/")
	parts := strings.Split(rest, "/")
	for _, part := range parts {
		if part == "" {
			return nil, false
		}
	}
	return parts, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be a non-negative integer")
		return 0, false
	}
	return value, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	domErr := mapError(err)
	writeJSON(w, domErr.Status, map[string]any{
		"error": map[string]any{
			"code":    domErr.Code,
			"message": domErr.Message,
			"details": domErr.Details,
		},
	})
}

// mapError translates domain failures into wire errors. Unknown errors are
// logged and masked as a generic 500.
func mapError(err error) *DomainError {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFoundError("resource not found")
	case errors.Is(err, sharing.ErrInvalidRole):
		return validationError("role must be one of read, write, owner")
	case errors.Is(err, sharing.ErrSelfShare):
		return invalidStateError("a note cannot be shared with its creator")
	case errors.Is(err, sharing.ErrNotShared):
		return invalidStateError("note is not shared with that user")
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "an account with this email already exists", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, authpw.ErrValidation):
		return validationError(err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
	case errors.Is(err, access.ErrMissingCreator):
		// Data consistency fault, not a permission outcome.
		log.Printf("http: %v", err)
		return domainError(http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	}

	log.Printf("http: internal error: %v", err)
	return domainError(http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
