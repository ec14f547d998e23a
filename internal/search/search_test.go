package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFallback struct {
	results []Result
	total   int
	err     error
	queries []Query
}

func (f *fakeFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	return f.results, f.total, f.err
}

func (f *fakeFallback) LoadAllRecords(ctx context.Context) ([]ViewRecord, []WorkflowRecord, error) {
	return nil, nil, nil
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% done\_now \\o/`, escapeLike(`100% done_now \o/`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 20, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, 50, clampLimit(500))
}

func TestHitToResultPrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"cbv_1"`),
		"slug":       json.RawMessage(`"sprint-board"`),
		"name":       json.RawMessage(`"Sprint Board"`),
		"boardId":    json.RawMessage(`"12345"`),
		"_formatted": json.RawMessage(`{"name":"<mark>Sprint</mark> Board"}`),
	}
	r := hitToResult(hit, ResultView)
	assert.Equal(t, ResultView, r.Type)
	assert.Equal(t, "cbv_1", r.ID)
	assert.Equal(t, "sprint-board", r.Slug)
	assert.Equal(t, "<mark>Sprint</mark> Board", r.Title)
	assert.Equal(t, "board 12345", r.Snippet)

	wf := hitToResult(meili.Hit{
		"id":          json.RawMessage(`"wft_send_webhook"`),
		"name":        json.RawMessage(`"Send webhook"`),
		"description": json.RawMessage(`"POST a JSON payload"`),
	}, ResultWorkflow)
	assert.Equal(t, "Send webhook", wf.Title)
	assert.Equal(t, "POST a JSON payload", wf.Snippet)
	assert.Empty(t, wf.Slug)
}

func TestIndexToResultType(t *testing.T) {
	assert.Equal(t, ResultView, indexToResultType(idxViews))
	assert.Equal(t, ResultWorkflow, indexToResultType(idxWorkflows))
	assert.Equal(t, ResultType(""), indexToResultType("other"))
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	fb := &fakeFallback{results: []Result{{Type: ResultView, ID: "cbv_1", Title: "Sprint"}}, total: 1}
	svc := NewService(nil, fb, nil)

	resp := svc.Search(context.Background(), Query{Text: "  sprint ", OrgID: "org_1", Limit: 999})

	assert.Equal(t, "postgres", resp.Backend)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "sprint", resp.Query)
	require.Len(t, fb.queries, 1)
	assert.Equal(t, 50, fb.queries[0].Limit)
	assert.Equal(t, "org_1", fb.queries[0].OrgID)
}

func TestServiceBlankQuery(t *testing.T) {
	fb := &fakeFallback{}
	svc := NewService(nil, fb, nil)

	resp := svc.Search(context.Background(), Query{Text: "   "})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Empty(t, fb.queries)
}

func TestServiceFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("db down")}, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestIndexingWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, &fakeFallback{}, nil)
	svc.IndexView(ViewRecord{ID: "cbv_1"})
	svc.DeleteView("cbv_1")
	assert.NoError(t, svc.ReindexAllFromPG(context.Background()))
}
