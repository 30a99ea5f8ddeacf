package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"parlor/chat"
	"parlor/db"
	"parlor/models"
	"parlor/search"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "parlor_session"

const maxRequestBody = 64 << 10

type contextKey string

const sessionKey contextKey = "session"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	IsAdmin  bool   `json:"isAdmin"`
}

type sendRequest struct {
	Body     string `json:"body"`
	Receiver string `json:"receiver"`
}

// Handler returns the HTTP API, including the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /logout", s.requireSession(s.handleLogout))
	mux.Handle("GET /messages", s.requireSession(s.handleInbox))
	mux.Handle("GET /messages/{username}", s.requireSession(s.handleConversation))
	mux.Handle("POST /messages", s.requireSession(s.handleSend))
	mux.Handle("GET /users", s.requireSession(s.handleUsers))
	mux.Handle("GET /users/search", s.requireSession(s.handleSearch))
	mux.Handle("GET /ws", s.requireSession(s.handleWebSocket))

	return mux
}

// requireSession resolves the session from the cookie or a bearer token.
func (s *Server) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Lookup(sessionToken(r))
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// sessionFrom returns the session stored by requireSession.
func sessionFrom(r *http.Request) Session {
	sess, _ := r.Context().Value(sessionKey).(Session)
	return sess
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, db.ErrUsernameTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, db.ErrInvalidUsername), errors.Is(err, db.ErrInvalidPassword):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("register failed", "username", req.Username, "error", err)
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}

	s.logger.Info("user registered", "username", user.Username)
	s.startSession(w, user, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, db.ErrInvalidCredentials) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error("login failed", "username", req.Username, "error", err)
		http.Error(w, "error checking credentials", http.StatusInternalServerError)
		return
	}

	s.startSession(w, user, http.StatusOK)
}

func (s *Server) startSession(w http.ResponseWriter, user *models.User, status int) {
	sess := s.sessions.Create(user)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(s.cfg.Server.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{
		Username: sess.Username,
		Token:    sess.Token,
		IsAdmin:  sess.IsAdmin,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(sessionFrom(r).Token)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListBroadcastAndInbox(r.Context(), sessionFrom(r).Username, 0)
	if err != nil {
		s.logger.Error("list inbox failed", "error", err)
		http.Error(w, "error loading messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	peer := r.PathValue("username")
	entries, err := s.store.ListConversation(r.Context(), sessionFrom(r).Username, peer, 0)
	if err != nil {
		s.logger.Error("list conversation failed", "peer", peer, "error", err)
		http.Error(w, "error loading messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	result, err := s.router.Send(r.Context(), chat.Sender{Username: sess.Username, IsAdmin: sess.IsAdmin}, req.Receiver, req.Body)
	if !s.checkSendError(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// checkSendError writes the HTTP error for a failed send and reports whether
// the handler may continue.
func (s *Server) checkSendError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, models.ErrEmptyBody) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	s.logger.Error("send failed", "error", err)
	http.Error(w, "message could not be stored", http.StatusInternalServerError)
	return false
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Usernames(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		http.Error(w, "error loading users", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	matches, err := s.searchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("search users failed", "error", err)
		http.Error(w, "error searching users", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) searchUsers(ctx context.Context, query string) ([]string, error) {
	names, err := s.store.Usernames(ctx)
	if err != nil {
		return nil, err
	}
	return search.CloseMatches(query, names, s.cfg.Search.Limit, s.cfg.Search.Cutoff), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
