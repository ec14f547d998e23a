package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mondayease/api/internal/auth"
	"mondayease/api/internal/oauth"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"smtp":     map[string]any{"configured": s.service.SMTPConfigured()},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r, false)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/client/signin" {
		s.handleAuthSignIn(w, r, true)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken" validate:"required"`
		}
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// The provider redirects the browser here without a bearer token; the
	// state nonce identifies the user.
	if r.Method == http.MethodGet && r.URL.Path == "/api/oauth/monday/callback" {
		target := s.service.OAuthCallback(r.Context(), oauth.ParamsFromQuery(r.URL.Query()))
		w.Header().Del("Content-Type")
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "organizations":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body struct {
				Name string `json:"name" validate:"required,max=120"`
			}
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			payload, err := s.service.CreateOrganization(r.Context(), session, body.Name)
			s.respond(w, r, http.StatusCreated, payload, err)
			return
		}
	case "organization":
		s.handleOrganization(w, r, session, parts[2:])
		return
	case "clients":
		s.handleClients(w, r, session, parts[2:])
		return
	case "integrations":
		s.handleIntegrations(w, r, session, parts[2:])
		return
	case "monday":
		if len(parts) == 3 && r.Method == http.MethodGet {
			accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
			switch parts[2] {
			case "boards":
				payload, err := s.service.MondayBoards(r.Context(), session, accountID)
				s.respond(w, r, http.StatusOK, payload, err)
				return
			case "users":
				payload, err := s.service.MondayUsers(r.Context(), session, accountID)
				s.respond(w, r, http.StatusOK, payload, err)
				return
			}
		}
	case "tasks":
		if len(parts) == 2 && r.Method == http.MethodGet {
			q := r.URL.Query()
			payload, err := s.service.Tasks(r.Context(), session, q.Get("member_id"), q.Get("group"))
			s.respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "board-configs":
		s.handleBoardConfigs(w, r, session, parts[2:])
		return
	case "views":
		s.handleViews(w, r, session, parts[2:])
		return
	case "view-data":
		if len(parts) == 2 && r.Method == http.MethodGet {
			q := r.URL.Query()
			payload, err := s.service.ViewData(r.Context(), session, q.Get("view_id"), viewQuery(q))
			s.respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "workflows":
		s.handleWorkflows(w, r, session, parts[2:])
		return
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			q := r.URL.Query()
			limit, _ := strconv.Atoi(q.Get("limit"))
			payload, err := s.service.Search(r.Context(), session, q.Get("q"), q.Get("type"), limit)
			s.respond(w, r, http.StatusOK, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOrganization(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.GetOrganization(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case len(rest) == 2 && rest[0] == "members" && rest[1] == "invite" && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email" validate:"required,email"`
			Role  string `json:"role" validate:"required,oneof=admin member"`
		}
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		payload, err := s.service.InviteMember(r.Context(), session, body.Email, body.Role)
		s.respond(w, r, http.StatusCreated, payload, err)
		return

	case len(rest) == 2 && rest[0] == "invites" && rest[1] == "accept" && r.Method == http.MethodPost:
		payload, err := s.service.AcceptInvite(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case len(rest) == 2 && rest[0] == "members" && r.Method == http.MethodPut:
		var body struct {
			Role   string `json:"role" validate:"omitempty,oneof=admin member"`
			Status string `json:"status" validate:"omitempty,oneof=active disabled"`
		}
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		payload, err := s.service.UpdateMember(r.Context(), session, rest[1], body.Role, body.Status)
		s.respond(w, r, http.StatusOK, payload, err)
		return

	case len(rest) == 1 && rest[0] == "logo" && r.Method == http.MethodPut:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxLogoBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		contentType := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
		payload, err := s.service.SetLogo(r.Context(), session, contentType, data)
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		items, err := s.service.ListClients(r.Context(), session)
		s.respond(w, r, http.StatusOK, map[string]any{"clients": items}, err)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body struct {
			Email    string `json:"email" validate:"required,email"`
			Password string `json:"password" validate:"required,min=8"`
			FullName string `json:"fullName" validate:"max=120"`
			Company  string `json:"company" validate:"max=120"`
		}
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		payload, err := s.service.CreateClient(r.Context(), session, body.Email, body.Password, body.FullName, body.Company)
		s.respond(w, r, http.StatusCreated, payload, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		err := s.service.DeleteClient(r.Context(), session, rest[0])
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleIntegrations(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		items, err := s.service.ListIntegrations(r.Context(), session)
		s.respond(w, r, http.StatusOK, map[string]any{"integrations": items}, err)
		return
	}

	if len(rest) == 2 && rest[0] == "monday" && rest[1] == "connect" && r.Method == http.MethodPost {
		payload, err := s.service.ConnectMonday(r.Context(), session)
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodDelete {
		err := s.service.DeleteIntegration(r.Context(), session, rest[0])
		s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", errNotAuthenticated.Message, nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", errNotAuthenticated.Message, nil)
			return Session{}, false
		}
		s.logger.Error("session lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respond writes payload with status, or the mapped error when err is set.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

// decodeAndValidate reads the JSON body into target and checks its
// validate tags. It writes the error response itself and reports whether the
// handler should continue.
func (s *HTTPServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := validateBody(target); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
		FullName string `json:"fullName" validate:"max=120"`
	}
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	payload, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.FullName)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request, client bool) {
	var body struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decodeAndValidate(w, r, &body) {
		return
	}

	signIn := s.service.SignIn
	if client {
		signIn = s.service.SignInClient
	}
	session, err := signIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token" validate:"required"`
	}
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}
