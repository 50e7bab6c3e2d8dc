// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the agora server and client CLI.
package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/agora/pkg/errors"
)

// CLIError wraps AgoraError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.AgoraError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ae *errors.AgoraError, hint string) *CLIError {
	return &CLIError{
		AgoraError: ae,
		Hint:       hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.AgoraError == nil {
		return "unknown error"
	}

	msg := e.AgoraError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// PrintError writes the error in text or JSON form.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]string{
			"code":    string(e.AgoraError.Code),
			"message": e.AgoraError.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.AgoraError.Code, e.AgoraError.Message)
	if e.AgoraError.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.AgoraError.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// WrapConnectionError wraps a connection error with CLI hints.
func WrapConnectionError(err error, addr string) *CLIError {
	ae := errors.New(errors.CodeInternal, "connection failed", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(ae, fmt.Sprintf("check if the server is running at %s", addr))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ae := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(ae, "run 'agora help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	ae := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ae, hint)
}

// NewRemoteError reports a JSON-RPC error returned by an agent.
func NewRemoteError(code int, message string) *CLIError {
	ae := errors.New(errors.CodeProvider, message, nil).
		WithContext("rpc_code", code)
	hint := ""
	switch code {
	case errors.RPCTaskNotFound:
		hint = "the task may have expired; start a new one without --task"
	case errors.RPCInvalidRequest:
		hint = "only tasks waiting for input accept follow-up messages"
	}
	return NewCLIError(ae, hint)
}

func fatal(err error, asJSON bool) {
	var ce *CLIError
	if !stderrors.As(err, &ce) {
		ce = NewCLIError(errors.AsAgoraError(err), "")
	}
	ce.PrintError(os.Stderr, asJSON)
	os.Exit(1)
}
