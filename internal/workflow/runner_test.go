package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mondayease/api/internal/email"
	"mondayease/api/internal/store"
)

// memoryStore enforces the same source-status check as the SQL update.
type memoryStore struct {
	executions  map[string]store.WorkflowExecution
	transitions []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{executions: map[string]store.WorkflowExecution{}}
}

func (m *memoryStore) InsertExecution(ctx context.Context, e store.WorkflowExecution) error {
	m.executions[e.ID] = e
	return nil
}

func (m *memoryStore) TransitionExecution(ctx context.Context, id, from, to string, update store.ExecutionUpdate) (store.WorkflowExecution, error) {
	e, ok := m.executions[id]
	if !ok || e.Status != from {
		return store.WorkflowExecution{}, store.ErrTransitionRejected
	}
	e.Status = to
	if update.Output != nil {
		e.Output = update.Output
	}
	if update.ErrorMessage != "" {
		e.ErrorMessage = update.ErrorMessage
	}
	if update.StartedAt != nil {
		e.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		e.CompletedAt = update.CompletedAt
	}
	if update.DurationMS != nil {
		e.DurationMS = update.DurationMS
	}
	m.executions[id] = e
	m.transitions = append(m.transitions, from+"->"+to)
	return e, nil
}

type fakeMailer struct {
	configured bool
	sent       []email.WorkflowNotificationData
	to         [][]string
	err        error
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendWorkflowNotification(to []string, data email.WorkflowNotificationData) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, data)
	return nil
}

func catalogTemplate(t *testing.T, key string) store.WorkflowTemplate {
	t.Helper()
	templates, err := Catalog()
	require.NoError(t, err)
	for _, tmpl := range templates {
		if tmpl.Key == key {
			return tmpl
		}
	}
	t.Fatalf("template %s not in catalog", key)
	return store.WorkflowTemplate{}
}

func TestExecuteWebhookSuccess(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		_, _ = w.Write([]byte(`ok`))
	}))
	defer server.Close()

	s := newMemoryStore()
	runner := NewRunner(s, server.Client(), nil, nil)
	runner.checkTarget = url.Parse

	input := json.RawMessage(`{"url":"` + server.URL + `/hook","payload":{"board":"123"}}`)
	exec, err := runner.Execute(context.Background(), catalogTemplate(t, "send-webhook"), "org_1", "usr_1", input)
	require.NoError(t, err)

	assert.Equal(t, string(StatusSuccess), exec.Status)
	assert.Equal(t, []string{"pending->running", "running->success"}, s.transitions)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.CompletedAt)
	require.NotNil(t, exec.DurationMS)
	assert.GreaterOrEqual(t, *exec.DurationMS, int64(0))
	assert.Equal(t, "send-webhook", received["template"])
	assert.Equal(t, "org_1", received["organization_id"])
	assert.JSONEq(t, `{"status_code":200,"response":"ok"}`, string(exec.Output))
}

func TestExecuteWebhookFailureIsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newMemoryStore()
	runner := NewRunner(s, server.Client(), nil, nil)
	runner.checkTarget = url.Parse

	input := json.RawMessage(`{"webhook_url":"` + server.URL + `","text":"deploy finished"}`)
	exec, err := runner.Execute(context.Background(), catalogTemplate(t, "post-to-slack"), "org_1", "usr_1", input)
	require.NoError(t, err)

	assert.Equal(t, string(StatusFailed), exec.Status)
	assert.Equal(t, "webhook returned status 500", exec.ErrorMessage)
	assert.Equal(t, []string{"pending->running", "running->failed"}, s.transitions)
}

func TestExecuteEmail(t *testing.T) {
	s := newMemoryStore()
	mailer := &fakeMailer{configured: true}
	runner := NewRunner(s, nil, mailer, nil)

	input := json.RawMessage(`{"to":["client@techcorp.com"],"subject":"Q3 launch","message":"On track"}`)
	exec, err := runner.Execute(context.Background(), catalogTemplate(t, "client-status-digest"), "org_1", "usr_1", input)
	require.NoError(t, err)

	assert.Equal(t, string(StatusSuccess), exec.Status)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Status update: Q3 launch", mailer.sent[0].Subject)
	assert.Equal(t, []string{"client@techcorp.com"}, mailer.to[0])
}

func TestExecuteEmailWithoutSMTPFails(t *testing.T) {
	s := newMemoryStore()
	runner := NewRunner(s, nil, &fakeMailer{configured: false}, nil)

	input := json.RawMessage(`{"to":["ops@example.com"],"subject":"Hi","message":"There"}`)
	exec, err := runner.Execute(context.Background(), catalogTemplate(t, "email-team"), "org_1", "usr_1", input)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailed), exec.Status)
	assert.Equal(t, email.ErrNotConfigured.Error(), exec.ErrorMessage)
}

func TestExecuteRejectsInvalidInputBeforeInsert(t *testing.T) {
	s := newMemoryStore()
	runner := NewRunner(s, nil, nil, nil)

	_, err := runner.Execute(context.Background(), catalogTemplate(t, "send-webhook"), "org_1", "usr_1", json.RawMessage(`{}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, s.executions)
}

func TestExecuteRejectsInactiveTemplate(t *testing.T) {
	s := newMemoryStore()
	runner := NewRunner(s, nil, nil, nil)
	tmpl := catalogTemplate(t, "email-team")
	tmpl.IsActive = false

	_, err := runner.Execute(context.Background(), tmpl, "org_1", "usr_1", nil)
	require.Error(t, err)
	assert.Empty(t, s.executions)
}
