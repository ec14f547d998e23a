package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mondayease/api/internal/email"
	"mondayease/api/internal/store"
	"mondayease/api/internal/telemetry"
	"mondayease/api/internal/util"
)

const actionTimeout = 30 * time.Second

type Store interface {
	InsertExecution(ctx context.Context, e store.WorkflowExecution) error
	TransitionExecution(ctx context.Context, id, from, to string, update store.ExecutionUpdate) (store.WorkflowExecution, error)
}

type Mailer interface {
	IsConfigured() bool
	SendWorkflowNotification(to []string, data email.WorkflowNotificationData) error
}

type Runner struct {
	store       Store
	http        *http.Client
	mailer      Mailer
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time
	checkTarget func(string) (*url.URL, error)
}

func NewRunner(s Store, httpClient *http.Client, mailer Mailer, logger *zap.Logger) *Runner {
	if httpClient == nil {
		httpClient = newWebhookClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:       s,
		http:        httpClient,
		mailer:      mailer,
		tracer:      telemetry.Tracer("workflow"),
		logger:      logger.Named("workflow"),
		now:         time.Now,
		checkTarget: checkWebhookTarget,
	}
}

// Execute validates input, records a pending execution and runs the
// template's action to a terminal status. An action failure is recorded on
// the execution and is not returned as an error; the returned error covers
// invalid input and persistence failures only.
func (r *Runner) Execute(ctx context.Context, tmpl store.WorkflowTemplate, orgID, userID string, input json.RawMessage) (store.WorkflowExecution, error) {
	if !tmpl.IsActive {
		return store.WorkflowExecution{}, fmt.Errorf("workflow template %s is not active", tmpl.Key)
	}
	if err := ValidateInput(tmpl.InputSchema, input); err != nil {
		return store.WorkflowExecution{}, err
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	exec := store.WorkflowExecution{
		ID:             util.NewID("wfx"),
		OrganizationID: orgID,
		TemplateID:     tmpl.ID,
		TriggeredBy:    userID,
		Status:         string(StatusPending),
		Input:          input,
	}

	ctx, span := r.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String(telemetry.OrgIDKey, orgID),
		attribute.String(telemetry.TemplateIDKey, tmpl.ID),
		attribute.String(telemetry.ExecutionIDKey, exec.ID),
	))
	defer span.End()

	if err := r.store.InsertExecution(ctx, exec); err != nil {
		telemetry.SetError(span, err)
		return store.WorkflowExecution{}, err
	}

	started := r.now().UTC()
	running, err := r.transition(ctx, exec.ID, StatusPending, StatusRunning, store.ExecutionUpdate{StartedAt: &started})
	if err != nil {
		telemetry.SetError(span, err)
		return store.WorkflowExecution{}, err
	}

	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	output, actionErr := r.runAction(actionCtx, tmpl, orgID, input)
	cancel()

	completed := r.now().UTC()
	duration := completed.Sub(started).Milliseconds()
	update := store.ExecutionUpdate{Output: output, CompletedAt: &completed, DurationMS: &duration}
	final := StatusSuccess
	if actionErr != nil {
		final = StatusFailed
		update.ErrorMessage = actionErr.Error()
		telemetry.SetError(span, actionErr)
		r.logger.Warn("workflow action failed",
			zap.String("execution_id", running.ID),
			zap.String("template", tmpl.Key),
			zap.Error(actionErr),
		)
	}

	done, err := r.transition(ctx, exec.ID, StatusRunning, final, update)
	if err != nil {
		telemetry.SetError(span, err)
		return store.WorkflowExecution{}, err
	}
	span.SetAttributes(attribute.String("mondayease.workflow.status", done.Status))
	return done, nil
}

func (r *Runner) transition(ctx context.Context, id string, from, to Status, update store.ExecutionUpdate) (store.WorkflowExecution, error) {
	if !CanTransition(from, to) {
		return store.WorkflowExecution{}, fmt.Errorf("workflow execution %s: illegal transition %s -> %s", id, from, to)
	}
	return r.store.TransitionExecution(ctx, id, string(from), string(to), update)
}

func (r *Runner) runAction(ctx context.Context, tmpl store.WorkflowTemplate, orgID string, input json.RawMessage) (json.RawMessage, error) {
	var config map[string]any
	if len(tmpl.ActionConfig) > 0 {
		if err := json.Unmarshal(tmpl.ActionConfig, &config); err != nil {
			return nil, fmt.Errorf("decode action config: %w", err)
		}
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	switch tmpl.ActionKind {
	case ActionWebhook:
		return r.runWebhook(ctx, tmpl, orgID, config, fields, input)
	case ActionEmail:
		return r.runEmail(tmpl, config, fields)
	default:
		return nil, fmt.Errorf("unknown action kind %q", tmpl.ActionKind)
	}
}

func (r *Runner) runWebhook(ctx context.Context, tmpl store.WorkflowTemplate, orgID string, config, fields map[string]any, input json.RawMessage) (json.RawMessage, error) {
	target := stringField(config, "url")
	if target == "" {
		target = stringField(fields, stringField(config, "url_field"))
	}
	if target == "" {
		return nil, errors.New("webhook url is not set")
	}
	targetURL, err := r.checkTarget(target)
	if err != nil {
		return nil, err
	}

	var payload any
	switch stringField(config, "format") {
	case "slack":
		payload = map[string]any{"text": stringField(fields, "text")}
	default:
		payload = map[string]any{
			"template":        tmpl.Key,
			"organization_id": orgID,
			"input":           input,
			"sent_at":         r.now().UTC().Format(time.RFC3339),
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", telemetry.ServiceName)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	output, _ := json.Marshal(map[string]any{
		"status_code": resp.StatusCode,
		"response":    strings.TrimSpace(string(snippet)),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return output, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return output, nil
}

func (r *Runner) runEmail(tmpl store.WorkflowTemplate, config, fields map[string]any) (json.RawMessage, error) {
	if r.mailer == nil || !r.mailer.IsConfigured() {
		return nil, email.ErrNotConfigured
	}
	recipients := stringList(fields["to"])
	if len(recipients) == 0 {
		return nil, errors.New("email has no recipients")
	}
	subject := stringField(config, "subject_prefix") + stringField(fields, "subject")

	err := r.mailer.SendWorkflowNotification(recipients, email.WorkflowNotificationData{
		Subject:      subject,
		Message:      stringField(fields, "message"),
		TemplateName: tmpl.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	output, _ := json.Marshal(map[string]any{"recipients": len(recipients), "subject": subject})
	return output, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil || key == "" {
		return ""
	}
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func stringList(v any) []string {
	switch typed := v.(type) {
	case string:
		if s := strings.TrimSpace(typed); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
