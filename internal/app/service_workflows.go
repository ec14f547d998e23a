package app

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mondayease/api/internal/rbac"
	"mondayease/api/internal/store"
)

const (
	defaultExecutionLimit = 20
	maxExecutionLimit     = 100
)

func rawOrEmpty(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func templatePayload(t store.WorkflowTemplate) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"key":         t.Key,
		"name":        t.Name,
		"description": t.Description,
		"category":    t.Category,
		"actionKind":  t.ActionKind,
		"inputSchema": rawOrEmpty(t.InputSchema, "{}"),
		"isActive":    t.IsActive,
		"createdAt":   formatTime(t.CreatedAt),
	}
}

func executionPayload(e store.WorkflowExecution) map[string]any {
	var durationMS any
	if e.DurationMS != nil {
		durationMS = *e.DurationMS
	}
	return map[string]any{
		"id":           e.ID,
		"templateId":   e.TemplateID,
		"triggeredBy":  e.TriggeredBy,
		"status":       e.Status,
		"input":        rawOrEmpty(e.Input, "{}"),
		"output":       rawOrEmpty(e.Output, "null"),
		"errorMessage": nilIfEmpty(e.ErrorMessage),
		"startedAt":    formatTimePtr(e.StartedAt),
		"completedAt":  formatTimePtr(e.CompletedAt),
		"durationMs":   durationMS,
		"createdAt":    formatTime(e.CreatedAt),
	}
}

func (s *Service) ListTemplates(ctx context.Context, sess Session) ([]map[string]any, error) {
	if err := requireMember(sess); err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		items = append(items, templatePayload(t))
	}
	return items, nil
}

// ExecuteTemplate runs a template for the caller's organization. A failed
// action still returns the recorded execution.
func (s *Service) ExecuteTemplate(ctx context.Context, sess Session, templateID string, input json.RawMessage) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionExecute); err != nil {
		return nil, err
	}
	tmpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, domainError(http.StatusConflict, "TEMPLATE_INACTIVE", "This workflow template is not active", nil)
	}
	exec, err := s.runner.Execute(ctx, tmpl, sess.OrgID, sess.PrincipalID, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("workflow executed",
		zap.String("execution_id", exec.ID),
		zap.String("template", tmpl.Key),
		zap.String("status", exec.Status),
	)
	return map[string]any{"execution": executionPayload(exec), "template": templatePayload(tmpl)}, nil
}

func (s *Service) ListExecutions(ctx context.Context, sess Session, limit int) ([]map[string]any, error) {
	if err := requireMember(sess); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	if limit > maxExecutionLimit {
		limit = maxExecutionLimit
	}
	list, err := s.store.ListExecutions(ctx, sess.OrgID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(list))
	for _, e := range list {
		items = append(items, executionPayload(e))
	}
	return items, nil
}

func (s *Service) GetExecution(ctx context.Context, sess Session, id string) (map[string]any, error) {
	if err := requireMember(sess); err != nil {
		return nil, err
	}
	e, err := s.store.GetExecution(ctx, sess.OrgID, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"execution": executionPayload(e)}, nil
}
