// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for agora.
// Every error carries a stable code that maps onto a JSON-RPC error code.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies agora errors for monitoring and protocol mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// Protocol errors.
	CodeParse              ErrorCode = "PARSE_ERROR"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeMethodNotFound     ErrorCode = "METHOD_NOT_FOUND"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeUnsupported        ErrorCode = "UNSUPPORTED_OPERATION"
	CodePushUnsupported    ErrorCode = "PUSH_UNSUPPORTED"
	CodeContentType        ErrorCode = "CONTENT_TYPE_UNSUPPORTED"
	CodeInvalidAgentCard   ErrorCode = "INVALID_AGENT_CARD"
	CodeVersionUnsupported ErrorCode = "VERSION_UNSUPPORTED"
	CodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	CodeForbidden          ErrorCode = "FORBIDDEN"

	// Task lifecycle errors.
	CodeTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_STATE_TRANSITION"
	CodeNotCancelable     ErrorCode = "TASK_NOT_CANCELABLE"
	CodeConflict          ErrorCode = "CONFLICT"

	// Provider errors, namespaced by the "provider" context key.
	CodeProviderInit     ErrorCode = "PROVIDER_INIT"
	CodeProvider         ErrorCode = "PROVIDER_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"

	// Catalog errors.
	CodeDuplicateAgent   ErrorCode = "DUPLICATE_AGENT"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeNoAgentAvailable ErrorCode = "NO_AGENT_AVAILABLE"
)

// JSON-RPC 2.0 and A2A error codes.
const (
	RPCParseError          = -32700
	RPCInvalidRequest      = -32600
	RPCMethodNotFound      = -32601
	RPCInvalidParams       = -32602
	RPCInternalError       = -32603
	RPCTaskNotFound        = -32001
	RPCTaskNotCancelable   = -32002
	RPCPushNotSupported    = -32003
	RPCUnsupportedOp       = -32004
	RPCContentType         = -32005
	RPCInvalidAgentCard    = -32006
	RPCAuthRequired        = -32007
	RPCAuthorizationFailed = -32008
	RPCVersionNotSupported = -32009
)

// Category groups codes into the error taxonomy.
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryLifecycle Category = "lifecycle"
	CategoryProvider  Category = "provider"
	CategoryCatalog   Category = "catalog"
	CategoryInternal  Category = "internal"
)

// AgoraError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type AgoraError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *AgoraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AgoraError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *AgoraError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a new AgoraError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *AgoraError {
	return &AgoraError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AgoraError) WithContext(key string, value interface{}) *AgoraError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *AgoraError) WithAttribute(key, value string) *AgoraError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *AgoraError) WithRecoverable(recoverable bool) *AgoraError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *AgoraError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// Category reports the taxonomy family of the error code.
func (e *AgoraError) Category() Category {
	return CategoryOf(e.Code)
}

// RPCCode maps the error code onto its JSON-RPC error code.
func (e *AgoraError) RPCCode() int {
	return RPCCodeOf(e.Code)
}

// AsAgoraError attempts to convert an error to an AgoraError.
// Returns the error as AgoraError if one is found in the chain, or wraps it otherwise.
func AsAgoraError(err error) *AgoraError {
	if err == nil {
		return nil
	}
	var ae *AgoraError
	if stderrors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries an AgoraError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ae *AgoraError
	if !stderrors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}

// CategoryOf returns the taxonomy family for a code.
func CategoryOf(code ErrorCode) Category {
	switch code {
	case CodeParse, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidInput,
		CodeUnsupported, CodePushUnsupported, CodeContentType, CodeInvalidAgentCard,
		CodeVersionUnsupported, CodeUnauthenticated, CodeForbidden:
		return CategoryProtocol
	case CodeTaskNotFound, CodeInvalidTransition, CodeNotCancelable, CodeConflict:
		return CategoryLifecycle
	case CodeProviderInit, CodeProvider, CodeTimeout, CodeProviderNotFound:
		return CategoryProvider
	case CodeDuplicateAgent, CodeAgentNotFound, CodeNoAgentAvailable:
		return CategoryCatalog
	default:
		return CategoryInternal
	}
}

// RPCCodeOf maps error codes to JSON-RPC error codes.
func RPCCodeOf(code ErrorCode) int {
	switch code {
	case CodeParse:
		return RPCParseError
	case CodeInvalidRequest, CodeInvalidTransition, CodeConflict:
		return RPCInvalidRequest
	case CodeMethodNotFound:
		return RPCMethodNotFound
	case CodeInvalidInput:
		return RPCInvalidParams
	case CodeTaskNotFound:
		return RPCTaskNotFound
	case CodeNotCancelable:
		return RPCTaskNotCancelable
	case CodePushUnsupported:
		return RPCPushNotSupported
	case CodeUnsupported:
		return RPCUnsupportedOp
	case CodeContentType:
		return RPCContentType
	case CodeInvalidAgentCard:
		return RPCInvalidAgentCard
	case CodeUnauthenticated:
		return RPCAuthRequired
	case CodeForbidden:
		return RPCAuthorizationFailed
	case CodeVersionUnsupported:
		return RPCVersionNotSupported
	default:
		return RPCInternalError
	}
}
