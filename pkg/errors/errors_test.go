// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	ae := New(CodeProviderInit, "ollama unreachable", cause)

	if ae.Code != CodeProviderInit {
		t.Errorf("expected CodeProviderInit, got %v", ae.Code)
	}
	if ae.Message != "ollama unreachable" {
		t.Errorf("unexpected message %q", ae.Message)
	}
	if !errors.Is(ae, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	ae := New(CodeProvider, "execution failed", nil).
		WithContext("provider", "ollama").
		WithAttribute("model", "llama3.2")

	if ae.Context["provider"] != "ollama" {
		t.Errorf("expected provider context")
	}
	if ae.Attributes["model"] != "llama3.2" {
		t.Errorf("expected model attribute")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ae       *AgoraError
		expected string
	}{
		{
			name:     "with cause",
			ae:       New(CodeTimeout, "execution timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] execution timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			ae:       New(CodeTaskNotFound, "task not found: t1", nil),
			expected: "[TASK_NOT_FOUND] task not found: t1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ae.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRPCCodeOf(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeParse, -32700},
		{CodeInvalidRequest, -32600},
		{CodeMethodNotFound, -32601},
		{CodeInvalidInput, -32602},
		{CodeInternal, -32603},
		{CodeTaskNotFound, -32001},
		{CodeNotCancelable, -32002},
		{CodePushUnsupported, -32003},
		{CodeUnsupported, -32004},
		{CodeContentType, -32005},
		{CodeInvalidAgentCard, -32006},
		{CodeUnauthenticated, -32007},
		{CodeForbidden, -32008},
		{CodeVersionUnsupported, -32009},
		{CodeInvalidTransition, -32600},
		{CodeProvider, -32603},
		{CodeDuplicateAgent, -32603},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := RPCCodeOf(tt.code); got != tt.want {
				t.Errorf("RPCCodeOf(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	tests := map[ErrorCode]Category{
		CodeMethodNotFound:    CategoryProtocol,
		CodeTaskNotFound:      CategoryLifecycle,
		CodeInvalidTransition: CategoryLifecycle,
		CodeTimeout:           CategoryProvider,
		CodeDuplicateAgent:    CategoryCatalog,
		CodeInternal:          CategoryInternal,
	}
	for code, want := range tests {
		if got := CategoryOf(code); got != want {
			t.Errorf("CategoryOf(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestAsAgoraErrorUnwrapsChain(t *testing.T) {
	inner := NewTaskNotFound("abc")
	wrapped := fmt.Errorf("lookup: %w", inner)

	ae := AsAgoraError(wrapped)
	if ae != inner {
		t.Fatalf("expected wrapped AgoraError to be returned")
	}
	if !HasCode(wrapped, CodeTaskNotFound) {
		t.Errorf("expected HasCode to find TASK_NOT_FOUND")
	}
	if HasCode(errors.New("plain"), CodeTaskNotFound) {
		t.Errorf("plain error must not match")
	}
	if got := AsAgoraError(errors.New("plain")); got.Code != CodeInternal {
		t.Errorf("expected plain errors to wrap as internal, got %s", got.Code)
	}
	if AsAgoraError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestMarshalJSON(t *testing.T) {
	ae := NewProviderError("ollama", "stream failed", errors.New("eof"))
	raw, err := json.Marshal(ae)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != "PROVIDER_ERROR" {
		t.Errorf("unexpected code %v", decoded["code"])
	}
	if decoded["error"] != "eof" {
		t.Errorf("unexpected cause %v", decoded["error"])
	}
	if decoded["recoverable"] != true {
		t.Errorf("provider errors should be recoverable")
	}
}
