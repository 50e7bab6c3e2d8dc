// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for agora telemetry.
const (
	// Task attributes
	AttrTaskID    = "agora.task.id"
	AttrContextID = "agora.task.context_id"
	AttrTaskState = "agora.task.state"
	AttrPromptLen = "agora.task.prompt_length"

	// Transition attributes
	AttrStateFrom   = "agora.state.from"
	AttrStateTo     = "agora.state.to"
	AttrStateForced = "agora.state.forced"

	// Agent and routing attributes
	AttrAgentName       = "agora.agent.name"
	AttrAgentHealthy    = "agora.agent.healthy"
	AttrRoutingStrategy = "agora.routing.strategy"
	AttrRoutingSkills   = "agora.routing.skills"
	AttrRoutingTags     = "agora.routing.tags"
	AttrCandidates      = "agora.routing.candidates"

	// Protocol attributes
	AttrRPCMethod    = "rpc.method"
	AttrRPCRequestID = "rpc.jsonrpc.request_id"
	AttrRPCErrorCode = "rpc.jsonrpc.error_code"
)

// TaskAttributes returns attributes for task spans.
func TaskAttributes(taskID, contextID, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if contextID != "" {
		attrs = append(attrs, attribute.String(AttrContextID, contextID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(AttrTaskState, state))
	}
	return attrs
}

// TransitionAttributes returns attributes describing a state change.
func TransitionAttributes(from, to string, forced bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStateFrom, from),
		attribute.String(AttrStateTo, to),
		attribute.Bool(AttrStateForced, forced),
	}
}

// RoutingAttributes returns attributes for a routing decision.
func RoutingAttributes(strategy string, skills, tags []string, candidates int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRoutingStrategy, strategy),
		attribute.Int(AttrCandidates, candidates),
	}
	if len(skills) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrRoutingSkills, skills))
	}
	if len(tags) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrRoutingTags, tags))
	}
	return attrs
}

// RPCAttributes returns attributes for a JSON-RPC request span.
func RPCAttributes(method, requestID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRPCMethod, method),
	}
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRPCRequestID, requestID))
	}
	return attrs
}
