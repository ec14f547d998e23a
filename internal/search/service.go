package search

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Fallback is the database-backed search used when Meilisearch is down.
type Fallback interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context) ([]ViewRecord, []WorkflowRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	fallback Fallback
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	q.Limit = clampLimit(q.Limit)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexView pushes a view to Meilisearch without waiting.
func (s *Service) IndexView(v ViewRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexViews([]ViewRecord{v}); err != nil {
			s.logger.Warn("index view", zap.String("view_id", v.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteView(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteView(id); err != nil {
			s.logger.Warn("delete view", zap.String("view_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reloads every searchable record from Postgres into
// Meilisearch. It is a no-op while Meilisearch is unavailable.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if !s.meiliReady() || s.fallback == nil {
		return nil
	}
	views, workflows, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.meili.IndexViews(views); err != nil {
		return err
	}
	if err := s.meili.IndexWorkflows(workflows); err != nil {
		return err
	}
	s.logger.Info("search reindexed", zap.Int("views", len(views)), zap.Int("workflows", len(workflows)))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
