package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"mondayease/api/internal/store"
	"mondayease/api/internal/views"
)

func viewQuery(q url.Values) views.Query {
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return views.Query{
		Page:   page,
		Limit:  limit,
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
		Order:  q.Get("order"),
	}
}

func (s *HTTPServer) handleBoardConfigs(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		items, err := s.service.ListBoardConfigs(r.Context(), session)
		s.respond(w, r, http.StatusOK, map[string]any{"boardConfigs": items}, err)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body BoardConfigInput
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		payload, err := s.service.CreateBoardConfig(r.Context(), session, body)
		s.respond(w, r, http.StatusCreated, payload, err)
		return
	}

	if len(rest) == 0 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	configID := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body BoardConfigUpdate
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateBoardConfig(r.Context(), session, configID, body)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteBoardConfig(r.Context(), session, configID)
			s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "access" && r.Method == http.MethodGet {
		includeValues := r.URL.Query().Get("values") == "true"
		payload, err := s.service.BoardAccess(r.Context(), session, configID, includeValues)
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 3 && (rest[1] == "members" || rest[1] == "clients") {
		principalType := store.PrincipalMember
		if rest[1] == "clients" {
			principalType = store.PrincipalClient
		}
		principalID := rest[2]

		switch r.Method {
		case http.MethodPut:
			var body struct {
				FilterValues []string `json:"filterValues"`
				FilterValue  string   `json:"filterValue"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			values := body.FilterValues
			if body.FilterValue != "" {
				values = append(values, body.FilterValue)
			}
			payload, err := s.service.SetAccess(r.Context(), session, configID, principalType, principalID, values)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteAccess(r.Context(), session, configID, principalType, principalID)
			s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		items, err := s.service.ListViews(r.Context(), session)
		s.respond(w, r, http.StatusOK, map[string]any{"views": items}, err)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body ViewInput
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		payload, err := s.service.CreateView(r.Context(), session, body)
		s.respond(w, r, http.StatusCreated, payload, err)
		return
	}

	if len(rest) == 0 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	slug := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetView(r.Context(), session, slug)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPut:
			var body ViewUpdate
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			payload, err := s.service.UpdateView(r.Context(), session, slug, body)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeleteView(r.Context(), session, slug)
			s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodGet {
		q := r.URL.Query()
		outcome, err := s.service.ExportView(r.Context(), session, slug, q.Get("format"), viewQuery(q))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if outcome.URL != "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"url":       outcome.URL,
				"filename":  outcome.File.Filename,
				"mimeType":  outcome.File.MimeType,
				"expiresAt": formatTime(outcome.ExpiresAt),
			})
			return
		}
		w.Header().Set("Content-Type", outcome.File.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, outcome.File.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(outcome.File.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(outcome.File.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkflows(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 1 && rest[0] == "templates" && r.Method == http.MethodGet {
		items, err := s.service.ListTemplates(r.Context(), session)
		s.respond(w, r, http.StatusOK, map[string]any{"templates": items}, err)
		return
	}

	if len(rest) == 3 && rest[0] == "templates" && rest[2] == "execute" && r.Method == http.MethodPost {
		var body struct {
			Input json.RawMessage `json:"input"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ExecuteTemplate(r.Context(), session, rest[1], body.Input)
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 1 && rest[0] == "executions" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ListExecutions(r.Context(), session, limit)
		s.respond(w, r, http.StatusOK, map[string]any{"executions": items}, err)
		return
	}

	if len(rest) == 2 && rest[0] == "executions" && r.Method == http.MethodGet {
		payload, err := s.service.GetExecution(r.Context(), session, rest[1])
		s.respond(w, r, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
