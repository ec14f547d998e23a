// Package monday is a small GraphQL client for the Monday.com API.
package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mondayease/api/internal/telemetry"
)

const (
	apiVersion   = "2024-10"
	itemsPerPage = 500
	// maxItemPages bounds a single board fetch to 25k items.
	maxItemPages = 50
)

// APIError is a failed Monday call. Message carries the upstream message when
// one was returned.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "monday api: " + e.Message
}

// ErrUnauthorized is returned when Monday rejects the access token.
var ErrUnauthorized = errors.New("monday api: unauthorized")

type Client struct {
	endpoint string
	http     *http.Client
	tracer   trace.Tracer
}

func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		tracer:   telemetry.Tracer("monday"),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []graphQLError  `json:"errors"`
	ErrorMessage string          `json:"error_message"`
	ErrorCode    string          `json:"error_code"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Do runs a GraphQL operation and decodes its data into out.
func (c *Client) Do(ctx context.Context, token, operation, query string, variables map[string]any, out any) error {
	ctx, span := c.tracer.Start(ctx, "monday."+operation, trace.WithAttributes(attribute.String(telemetry.OperationKey, operation)))
	defer span.End()

	err := c.do(ctx, token, query, variables, out)
	if err != nil {
		telemetry.SetError(span, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, token, query string, variables map[string]any, out any) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnauthorized
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("API-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: upstreamMessage("", resp.StatusCode)}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: "invalid response body"}
	}
	if len(decoded.Errors) > 0 {
		return &APIError{StatusCode: resp.StatusCode, Message: upstreamMessage(decoded.Errors[0].Message, resp.StatusCode)}
	}
	if decoded.ErrorMessage != "" || resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: upstreamMessage(decoded.ErrorMessage, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "decode data: " + err.Error()}
	}
	return nil
}

func upstreamMessage(message string, status int) string {
	if trimmed := strings.TrimSpace(message); trimmed != "" {
		return trimmed
	}
	if status >= 400 {
		return fmt.Sprintf("unknown error (status %d)", status)
	}
	return "unknown error"
}
