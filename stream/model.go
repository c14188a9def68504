package stream

import (
	"context"
	"strings"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to run a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON object
}

// Message is one entry of the model's context.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelRequest is one generation request.
type ModelRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// ModelChunk is one element of a generation stream. Exactly one of Text,
// ToolCalls, Done or Err is meaningful; Done and Err are terminal.
type ModelChunk struct {
	Text         string
	ToolCalls    []ToolCall
	Done         bool
	FinishReason string
	Err          error
}

// ModelClient streams a generation.
//
// Contract:
//   - The channel is closed after a terminal chunk or when ctx ends.
//   - Tool calls are delivered fully assembled.
type ModelClient interface {
	Stream(ctx context.Context, req ModelRequest) (<-chan ModelChunk, error)
}

// toolSeparator joins backend and tool names into a model-facing name.
const toolSeparator = "__"

// ToolName returns the model-facing name of backend.tool.
func ToolName(backend, tool string) string {
	return backend + toolSeparator + tool
}

// SplitToolName reverses ToolName.
func SplitToolName(name string) (backend, tool string, ok bool) {
	backend, tool, ok = strings.Cut(name, toolSeparator)
	if !ok || backend == "" || tool == "" {
		return "", "", false
	}
	return backend, tool, true
}
