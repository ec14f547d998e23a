package monday

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client())
}

func decodeRequest(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var req graphQLRequest
	require.NoError(t, json.Unmarshal(body, &req))
	return req
}

func TestMe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-1", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("API-Version"))
		req := decodeRequest(t, r)
		assert.Contains(t, req.Query, "me {")
		_, _ = w.Write([]byte(`{"data":{"me":{"id":42,"name":"Avery","email":"avery@example.com","account":{"id":"9001","name":"Acme","slug":"acme"}}}}`))
	})

	account, err := client.Me(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "42", account.UserID)
	assert.Equal(t, "9001", account.AccountID)
	assert.Equal(t, "acme", account.AccountSlug)
}

func TestDoSurfacesUpstreamMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Field 'bogus' doesn't exist"}]}`))
	})

	_, err := client.Users(context.Background(), "token")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Field 'bogus' doesn't exist", apiErr.Message)
}

func TestDoErrorMessageShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error_message":"Complexity budget exhausted","error_code":"ComplexityException"}`))
	})

	_, err := client.Users(context.Background(), "token")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "Complexity budget exhausted", apiErr.Message)
}

func TestDoUnknownError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.Users(context.Background(), "token")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, strings.HasPrefix(apiErr.Message, "unknown error"))
}

func TestDoUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.Users(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.Users(context.Background(), " ")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestItemsFollowsCursor(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		req := decodeRequest(t, r)
		if calls == 1 {
			assert.Nil(t, req.Variables["cursor"])
			_, _ = w.Write([]byte(`{"data":{"boards":[{"items_page":{"cursor":"next-1","items":[
				{"id":"1","name":"Kickoff","group":{"id":"topics","title":"Topics"},"column_values":[
					{"id":"status","text":"Done","type":"status","value":"{\"index\":1,\"label_style\":{\"color\":\"#00c875\"}}"},
					{"id":"company","text":"TechCorp","type":"text","value":null}
				]}
			]}}]}}`))
			return
		}
		assert.Equal(t, "next-1", req.Variables["cursor"])
		_, _ = w.Write([]byte(`{"data":{"boards":[{"items_page":{"cursor":null,"items":[
			{"id":"2","name":"Review","group":null,"column_values":[{"id":"company","text":null,"type":"text","value":null}]}
		]}}]}}`))
	})

	rows, err := client.Items(context.Background(), "token", "123")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, calls)

	assert.Equal(t, "123", rows[0].BoardID)
	assert.Equal(t, "Topics", rows[0].GroupTitle)
	assert.Equal(t, "Done", rows[0].Text("status"))
	assert.Contains(t, rows[0].Cells["status"].Value, "label_style")
	assert.Equal(t, "", rows[0].Cells["company"].Value)
	assert.Equal(t, "", rows[1].Text("company"))
}

func TestBoardsStopsOnShortPage(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"data":{"boards":[{"id":"5","name":"Projects","state":"active","workspace":{"name":"Main"},"columns":[{"id":"status","title":"Status","type":"status"}]}]}}`))
	})

	boards, err := client.Boards(context.Background(), "token")
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Main", boards[0].Workspace)
	_, ok := boards[0].Column("status")
	assert.True(t, ok)
}

func TestParseID(t *testing.T) {
	id, ok := ParseID("1234567890")
	assert.True(t, ok)
	assert.Equal(t, "1234567890", id)
	_, ok = ParseID("12; drop table")
	assert.False(t, ok)
}
