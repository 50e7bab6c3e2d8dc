// Package jsonrpc serves the A2A JSON-RPC 2.0 binding over HTTP, with
// message/stream answered as server-sent events.
package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
	"github.com/jllopis/agora/pkg/task"
	"github.com/jllopis/agora/pkg/telemetry"
)

// MaxBodyBytes bounds a request body.
const MaxBodyBytes = 4 << 20

// TaskService is the part of task.Manager the server drives.
type TaskService interface {
	CreateTask(ctx context.Context, msg *a2a.Message, contextID string) (*a2a.Task, error)
	AppendMessage(ctx context.Context, taskID string, msg *a2a.Message) (*a2a.Task, error)
	Execute(ctx context.Context, taskID string) (<-chan task.Event, error)
	ExecuteSync(ctx context.Context, taskID string) (*a2a.Task, error)
	GetTask(taskID string) (*a2a.Task, error)
	CancelTask(ctx context.Context, taskID string) (*a2a.Task, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics counts errors returned to clients.
func WithMetrics(m *telemetry.TaskMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server exposes the JSON-RPC binding for the task manager.
type Server struct {
	Tasks TaskService

	log     *slog.Logger
	metrics *telemetry.TaskMetrics
	tracer  trace.Tracer
}

// New creates a new JSON-RPC server.
func New(tasks TaskService, opts ...Option) *Server {
	s := &Server{
		Tasks:  tasks,
		log:    slog.Default(),
		tracer: otel.Tracer("agora/jsonrpc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP handles JSON-RPC 2.0 requests. message/stream switches the
// response to an event stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, false)
}

// StreamHandler serves the dedicated streaming endpoint, which only accepts
// message/stream.
func (s *Server) StreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, true)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, streamOnly bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		s.writeError(ctx, w, nil, errors.New(errors.CodeParse, "parse error", err))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeInvalidRequest, "invalid request", nil))
		return
	}

	ctx, span := s.tracer.Start(ctx, "jsonrpc "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(telemetry.RPCAttributes(req.Method, fmt.Sprint(req.ID))...),
	)
	defer span.End()
	start := time.Now()
	s.log.DebugContext(ctx, "jsonrpc.request",
		slog.String("method", req.Method),
		slog.Any("id", req.ID),
	)
	defer func() {
		s.log.DebugContext(ctx, "jsonrpc.response",
			slog.String("method", req.Method),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()

	if streamOnly && req.Method != MethodStream {
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeMethodNotFound,
			fmt.Sprintf("only %s is served on this endpoint", MethodStream), nil))
		return
	}

	switch req.Method {
	case MethodSend:
		s.handleSend(ctx, w, req)
	case MethodStream:
		s.handleStream(ctx, w, req)
	case MethodGetTask:
		s.handleGetTask(ctx, w, req)
	case MethodCancelTask:
		s.handleCancelTask(ctx, w, req)
	case MethodPushConfigSet, MethodPushConfigGet:
		writeResult(w, req.ID, PushConfigResult{Supported: false})
	default:
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil))
	}
}

func (s *Server) handleSend(ctx context.Context, w http.ResponseWriter, req rpcRequest) {
	var params SendParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	taskID, err := s.prepare(ctx, params)
	if err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	t, err := s.Tasks.ExecuteSync(ctx, taskID)
	if err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	var historyLength *int
	if params.Configuration != nil {
		historyLength = params.Configuration.HistoryLength
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(telemetry.AttrTaskID, t.ID),
		attribute.String(telemetry.AttrTaskState, string(t.Status.State)),
	)
	writeResult(w, req.ID, serializeTask(t, historyLength))
}

func (s *Server) handleStream(ctx context.Context, w http.ResponseWriter, req rpcRequest) {
	var params SendParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeUnsupported, "streaming not supported", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	stream := &sseStream{w: w, f: flusher, id: req.ID}

	taskID, err := s.prepare(ctx, params)
	if err == nil {
		var events <-chan task.Event
		events, err = s.Tasks.Execute(ctx, taskID)
		if err == nil {
			s.pump(ctx, stream, events)
			return
		}
	}
	rpcErr := s.toRPCError(ctx, err)
	if werr := stream.send(EventError, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}); werr != nil {
		s.log.WarnContext(ctx, "jsonrpc.stream.write_failed", slog.String("error", werr.Error()))
	}
}

// pump forwards events until the final status. If the client goes away the
// rest of the channel is drained so the producer can finish.
func (s *Server) pump(ctx context.Context, stream *sseStream, events <-chan task.Event) {
	sent := 0
	for ev := range events {
		eventType, result, final := serializeEvent(ev)
		if eventType == "" {
			continue
		}
		if err := stream.send(eventType, rpcResponse{JSONRPC: "2.0", ID: stream.id, Result: result}); err != nil {
			s.log.WarnContext(ctx, "jsonrpc.stream.write_failed",
				slog.String(telemetry.AttrTaskID, ev.EventTaskID()),
				slog.String("error", err.Error()),
			)
			go func() {
				for range events {
				}
			}()
			return
		}
		sent++
		if final {
			break
		}
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("sse.events", sent))
}

// prepare creates a task for the message, or appends it to the task named
// by message.taskId.
func (s *Server) prepare(ctx context.Context, params SendParams) (string, error) {
	msg := params.Message
	if msg == nil {
		return "", errors.New(errors.CodeInvalidInput, "params.message is required", nil)
	}
	if msg.Role == "" {
		msg.Role = a2a.RoleUser
	}
	if len(params.Metadata) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any, len(params.Metadata))
		}
		for k, v := range params.Metadata {
			if _, set := msg.Metadata[k]; !set {
				msg.Metadata[k] = v
			}
		}
	}
	if msg.TaskID != "" {
		t, err := s.Tasks.AppendMessage(ctx, msg.TaskID, msg)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
	t, err := s.Tasks.CreateTask(ctx, msg, params.ContextID)
	if err != nil {
		return "", err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(telemetry.AttrTaskID, t.ID))
	return t.ID, nil
}

func (s *Server) handleGetTask(ctx context.Context, w http.ResponseWriter, req rpcRequest) {
	var params TaskQueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	if params.ResolvedTaskID() == "" {
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeInvalidInput, "missing taskId parameter", nil))
		return
	}
	t, err := s.Tasks.GetTask(params.ResolvedTaskID())
	if err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	writeResult(w, req.ID, serializeTask(t, params.HistoryLength))
}

func (s *Server) handleCancelTask(ctx context.Context, w http.ResponseWriter, req rpcRequest) {
	var params TaskQueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	if params.ResolvedTaskID() == "" {
		s.writeError(ctx, w, req.ID, errors.New(errors.CodeInvalidInput, "missing taskId parameter", nil))
		return
	}
	t, err := s.Tasks.CancelTask(ctx, params.ResolvedTaskID())
	if err != nil {
		s.writeError(ctx, w, req.ID, err)
		return
	}
	writeResult(w, req.ID, serializeTask(t, nil))
}

func decodeParams(params json.RawMessage, target any) error {
	if len(params) == 0 || string(params) == "null" {
		return errors.New(errors.CodeInvalidInput, "missing params", nil)
	}
	if err := json.Unmarshal(params, target); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid params: "+err.Error(), nil)
	}
	return nil
}

// toRPCError maps err onto a JSON-RPC error object. Internal errors are
// logged and returned with a sanitized message.
func (s *Server) toRPCError(ctx context.Context, err error) *Error {
	ae := errors.AsAgoraError(err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	s.metrics.RecordError(ctx, err, "jsonrpc")

	code := ae.RPCCode()
	if code == errors.RPCInternalError {
		span.SetStatus(codes.Error, "internal error")
		s.log.ErrorContext(ctx, "jsonrpc.internal_error", telemetry.ErrorAttr(err))
		return &Error{Code: code, Message: "internal error"}
	}
	span.SetAttributes(attribute.Int(telemetry.AttrRPCErrorCode, code))
	s.log.InfoContext(ctx, "jsonrpc.error",
		slog.Int("rpc_code", code),
		telemetry.ErrorAttr(err),
	)
	data := map[string]any{"code": string(ae.Code)}
	for k, v := range ae.Context {
		data[k] = v
	}
	return &Error{Code: code, Message: ae.Message, Data: data}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, id any, err error) {
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: s.toRPCError(ctx, err)})
}

func writeResult(w http.ResponseWriter, id any, result any) {
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeJSON(w http.ResponseWriter, payload rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

type sseStream struct {
	w  http.ResponseWriter
	f  http.Flusher
	id any
}

// send writes one "event: <type>\ndata: <json>\n\n" frame and flushes.
func (s *sseStream) send(event string, payload rpcResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
