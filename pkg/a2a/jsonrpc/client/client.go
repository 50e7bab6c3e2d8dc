// SPDX-License-Identifier: Apache-2.0

// Package client calls an agora (or any A2A) JSON-RPC endpoint.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/a2a/jsonrpc"
)

// Client wraps the JSON-RPC binding for A2A.
type Client struct {
	endpoint       string
	streamEndpoint string
	httpClient     *http.Client
	headers        map[string]string
}

// Option configures the client.
type Option func(*Client)

// New creates a JSON-RPC client bound to an HTTP endpoint.
func New(endpoint string, opts ...Option) *Client {
	client := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.streamEndpoint == "" {
		client.streamEndpoint = endpoint
	}
	return client
}

// WithHeaders sets default headers for each request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = cloneHeaders(headers)
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithStreamEndpoint sends message/stream to a dedicated endpoint, such as
// agora's /a2a/stream.
func WithStreamEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.streamEndpoint = endpoint
	}
}

// HTTPError reports a non-2xx response that carried no JSON-RPC error.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Detail)
}

// StreamEvent is one SSE event of message/stream. Exactly one of Status,
// Artifact and Err is set.
type StreamEvent struct {
	Event    string
	Status   *jsonrpc.StatusUpdate
	Artifact *jsonrpc.ArtifactUpdate
	Err      error
}

// Final reports whether the event ends the stream.
func (e StreamEvent) Final() bool {
	return e.Err != nil || (e.Status != nil && e.Status.Final)
}

// SendMessage invokes message/send. RPC failures are returned as
// *jsonrpc.Error.
func (c *Client) SendMessage(ctx context.Context, params *jsonrpc.SendParams) (*jsonrpc.Task, error) {
	if params == nil || params.Message == nil {
		return nil, fmt.Errorf("message is required")
	}
	resp := &jsonrpc.Task{}
	if err := c.call(ctx, jsonrpc.MethodSend, params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendStreamingMessage invokes message/stream. The channel is closed after
// the final status event, an error event, or when ctx is done.
func (c *Client) SendStreamingMessage(ctx context.Context, params *jsonrpc.SendParams) (<-chan StreamEvent, error) {
	if params == nil || params.Message == nil {
		return nil, fmt.Errorf("message is required")
	}
	return c.stream(ctx, jsonrpc.MethodStream, params)
}

// GetTask invokes tasks/get. A nil historyLength returns the whole history.
func (c *Client) GetTask(ctx context.Context, taskID string, historyLength *int) (*jsonrpc.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	resp := &jsonrpc.Task{}
	params := jsonrpc.TaskQueryParams{TaskID: taskID, HistoryLength: historyLength}
	if err := c.call(ctx, jsonrpc.MethodGetTask, params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelTask invokes tasks/cancel.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*jsonrpc.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	resp := &jsonrpc.Task{}
	if err := c.call(ctx, jsonrpc.MethodCancelTask, jsonrpc.TaskQueryParams{TaskID: taskID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NewTextParams builds send params for a single text message. A non-empty
// taskID continues a task waiting for input.
func NewTextParams(text, taskID, contextID string) *jsonrpc.SendParams {
	msg := a2a.NewMessage(a2a.RoleUser, a2a.TextPart(text))
	msg.TaskID = taskID
	return &jsonrpc.SendParams{Message: msg, ContextID: contextID}
}

func (c *Client) newRequest(ctx context.Context, endpoint, method string, params any) (*http.Request, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  json.RawMessage(payload),
	})
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		request.Header.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))
	return request, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	request, err := c.newRequest(ctx, c.endpoint, method, params)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp)
	}
	return decodeResponse(resp.Body, result)
}

func (c *Client) stream(ctx context.Context, method string, params any) (<-chan StreamEvent, error) {
	request, err := c.newRequest(ctx, c.streamEndpoint, method, params)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}
	// Parameter errors are answered before the stream starts, as plain JSON.
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		defer resp.Body.Close()
		if err := decodeResponse(resp.Body, nil); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("expected an event stream, got %q", resp.Header.Get("Content-Type"))
	}

	out := make(chan StreamEvent)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		err := readSSE(ctx, resp.Body, func(event string, payload []byte) (bool, error) {
			ev := decodeEvent(event, payload)
			select {
			case <-ctx.Done():
				return true, ctx.Err()
			case out <- ev:
				return ev.Final(), nil
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case out <- StreamEvent{Event: jsonrpc.EventError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func decodeEvent(event string, payload []byte) StreamEvent {
	ev := StreamEvent{Event: event}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		ev.Err = fmt.Errorf("decode %s event: %w", event, err)
		return ev
	}
	if decoded.Error != nil {
		ev.Err = decoded.Error
		return ev
	}
	var kind struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(decoded.Result, &kind)
	switch {
	case event == jsonrpc.EventArtifact || kind.Kind == "artifact-update":
		ev.Artifact = &jsonrpc.ArtifactUpdate{}
		if err := json.Unmarshal(decoded.Result, ev.Artifact); err != nil {
			ev.Artifact, ev.Err = nil, fmt.Errorf("decode %s event: %w", event, err)
		}
	default:
		ev.Status = &jsonrpc.StatusUpdate{}
		if err := json.Unmarshal(decoded.Result, ev.Status); err != nil {
			ev.Status, ev.Err = nil, fmt.Errorf("decode %s event: %w", event, err)
		}
	}
	return ev
}

func decodeResponse(body io.Reader, result any) error {
	var decoded rpcResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, result)
}

// readSSE calls handle for each complete event. Multi-line data fields are
// joined with newlines. handle returns true to stop reading.
func readSSE(ctx context.Context, body io.Reader, handle func(event string, payload []byte) (bool, error)) error {
	reader := bufio.NewReader(body)
	var buffer bytes.Buffer
	event := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				if buffer.Len() > 0 {
					_, herr := handle(event, buffer.Bytes())
					return herr
				}
				return fmt.Errorf("stream ended before the final event")
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if buffer.Len() == 0 {
				continue
			}
			done, err := handle(event, buffer.Bytes())
			if err != nil || done {
				return err
			}
			buffer.Reset()
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if buffer.Len() > 0 {
				buffer.WriteByte('\n')
			}
			buffer.WriteString(payload)
		}
	}
}

func parseHTTPError(response *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err == nil && decoded.Error != nil {
		return decoded.Error
	}
	detail := strings.TrimSpace(string(payload))
	if detail == "" {
		detail = response.Status
	}
	return &HTTPError{StatusCode: response.StatusCode, Detail: detail}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

func cloneHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}
