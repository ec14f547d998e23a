package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// openTestStore connects to TEST_DATABASE_URL with migrations applied, or
// skips.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedExecution(t *testing.T, s *PostgresStore) WorkflowExecution {
	t.Helper()
	ctx := context.Background()
	owner := UserProfile{ID: "usr_1", Email: "owner@example.com", FullName: "Owner", PasswordHash: "x", EmailVerified: true}
	if err := s.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	org := Organization{ID: "org_1", Name: "Acme", Slug: "acme", OwnerID: owner.ID}
	member := Member{ID: "mem_1", UserID: owner.ID, Email: owner.Email, Role: "owner", Status: "active"}
	if err := s.CreateOrganization(ctx, org, member); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	tmpl := WorkflowTemplate{ID: "wft_1", Key: "notify", Name: "Notify", ActionKind: "webhook", IsActive: true}
	if err := s.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("upsert template: %v", err)
	}
	exec := WorkflowExecution{ID: "wfx_1", OrganizationID: org.ID, TemplateID: tmpl.ID, TriggeredBy: owner.ID, Status: "pending"}
	if err := s.InsertExecution(ctx, exec); err != nil {
		t.Fatalf("insert execution: %v", err)
	}
	return exec
}

func TestTransitionExecutionMovesForward(t *testing.T) {
	s := openTestStore(t)
	exec := seedExecution(t, s)
	ctx := context.Background()

	started := time.Now().UTC()
	running, err := s.TransitionExecution(ctx, exec.ID, "pending", "running", ExecutionUpdate{StartedAt: &started})
	if err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if running.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}

	if _, err := s.TransitionExecution(ctx, exec.ID, "pending", "running", ExecutionUpdate{}); !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected for stale source status, got %v", err)
	}

	completed := started.Add(time.Second)
	duration := int64(1000)
	done, err := s.TransitionExecution(ctx, exec.ID, "running", "success", ExecutionUpdate{
		Output:      []byte(`{"status":200}`),
		CompletedAt: &completed,
		DurationMS:  &duration,
	})
	if err != nil {
		t.Fatalf("running -> success: %v", err)
	}
	if done.Status != "success" || done.DurationMS == nil || *done.DurationMS != 1000 {
		t.Fatalf("unexpected terminal execution: %+v", done)
	}
}

func TestExecutionGuardBlocksTerminalUpdate(t *testing.T) {
	s := openTestStore(t)
	exec := seedExecution(t, s)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, `UPDATE workflow_executions SET status='running', started_at=NOW() WHERE id=$1`, exec.ID); err != nil {
		t.Fatalf("move to running: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE workflow_executions SET status='failed' WHERE id=$1`, exec.ID); err != nil {
		t.Fatalf("move to failed: %v", err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE workflow_executions SET status='running' WHERE id=$1`, exec.ID)
	if err == nil {
		t.Fatal("expected UPDATE of a terminal execution to be blocked")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func TestFailStaleExecutions(t *testing.T) {
	s := openTestStore(t)
	exec := seedExecution(t, s)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	if _, err := s.TransitionExecution(ctx, exec.ID, "pending", "running", ExecutionUpdate{StartedAt: &started}); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}

	n, err := s.FailStaleExecutions(ctx, time.Now().Add(-15*time.Minute), "execution timed out")
	if err != nil {
		t.Fatalf("fail stale executions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale execution, got %d", n)
	}
	got, err := s.GetExecution(ctx, "org_1", exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != "failed" || got.ErrorMessage != "execution timed out" {
		t.Fatalf("unexpected execution after sweep: %+v", got)
	}
}

func TestFailStaleExecutionsSweepsStuckPending(t *testing.T) {
	s := openTestStore(t)
	exec := seedExecution(t, s)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, `UPDATE workflow_executions SET created_at=NOW() - INTERVAL '1 hour' WHERE id=$1`, exec.ID); err != nil {
		t.Fatalf("backdate execution: %v", err)
	}

	n, err := s.FailStaleExecutions(ctx, time.Now().Add(-15*time.Minute), "execution timed out")
	if err != nil {
		t.Fatalf("fail stale executions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the pending execution to be swept, got %d", n)
	}
	got, err := s.GetExecution(ctx, "org_1", exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != "failed" || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("unexpected execution after sweep: %+v", got)
	}
}

func TestFailStaleExecutionsKeepsFreshPending(t *testing.T) {
	s := openTestStore(t)
	exec := seedExecution(t, s)
	ctx := context.Background()

	n, err := s.FailStaleExecutions(ctx, time.Now().Add(-15*time.Minute), "execution timed out")
	if err != nil {
		t.Fatalf("fail stale executions: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing swept, got %d", n)
	}
	got, err := s.GetExecution(ctx, "org_1", exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("expected fresh execution to stay pending, got %s", got.Status)
	}
}

func TestBoardConfigActiveFollowsOwnerIntegration(t *testing.T) {
	s := openTestStore(t)
	seedExecution(t, s)
	ctx := context.Background()

	bc := BoardConfig{ID: "bc_1", OrganizationID: "org_1", BoardID: "100", AccountID: "9001", BoardName: "Projects", FilterColumnID: "company", VisibleColumns: []string{"status"}}
	if err := s.InsertBoardConfig(ctx, bc); err != nil {
		t.Fatalf("insert board config: %v", err)
	}
	got, err := s.GetBoardConfig(ctx, "org_1", "bc_1")
	if err != nil {
		t.Fatalf("get board config: %v", err)
	}
	if got.Active {
		t.Fatal("expected board config to be inactive without an integration")
	}

	if _, err := s.UpsertIntegration(ctx, Integration{ID: "int_1", UserID: "usr_1", IntegrationType: IntegrationMonday, AccountID: "9001", AccessToken: "tok"}); err != nil {
		t.Fatalf("upsert integration: %v", err)
	}
	got, err = s.GetBoardConfig(ctx, "org_1", "bc_1")
	if err != nil {
		t.Fatalf("get board config: %v", err)
	}
	if !got.Active {
		t.Fatal("expected board config to be active once the owner holds the account")
	}
	if len(got.VisibleColumns) != 1 || got.VisibleColumns[0] != "status" {
		t.Fatalf("unexpected visible columns: %v", got.VisibleColumns)
	}

	if err := s.InsertBoardConfig(ctx, bc); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate board, got %v", err)
	}
}
