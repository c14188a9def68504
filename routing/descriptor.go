package routing

import (
	"errors"
	"fmt"
	"slices"
)

// Kind classifies how the gateway treats a tool's results.
type Kind string

const (
	// KindRead returns a single record or computed value.
	KindRead Kind = "read"
	// KindList returns a record list and is paginated by the gateway.
	KindList Kind = "list"
	// KindLookup fetches one entity by id and never truncates.
	KindLookup Kind = "lookup"
	// KindMutating changes state and is gated by human confirmation.
	KindMutating Kind = "mutating"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRead, KindList, KindLookup, KindMutating:
		return true
	}
	return false
}

// ToolDescriptor describes one tool on a backend.
type ToolDescriptor struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Roles lists the roles of which the caller needs at least one.
	Roles []string `yaml:"roles" json:"roles"`

	// Kind selects pagination and confirmation handling.
	// Default: "read"
	Kind Kind `yaml:"kind" json:"kind"`

	// ListTool names the list tool suggested when a lookup misses.
	ListTool string `yaml:"list_tool" json:"listTool,omitempty"`

	// Parameters is the JSON schema of the tool's arguments.
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// BackendDescriptor describes one tool-execution backend.
type BackendDescriptor struct {
	Name    string           `yaml:"name" json:"name"`
	Address string           `yaml:"address" json:"-"`
	Tools   []ToolDescriptor `yaml:"tools" json:"tools"`
}

// Tool returns the named tool.
func (b BackendDescriptor) Tool(name string) (ToolDescriptor, bool) {
	for _, t := range b.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// Sentinel errors for route table validation.
var (
	ErrNoBackends       = errors.New("routing: no backends configured")
	ErrDuplicateBackend = errors.New("routing: duplicate backend")
	ErrInvalidBackend   = errors.New("routing: invalid backend")
	ErrInvalidTool      = errors.New("routing: invalid tool")
)

func (b *BackendDescriptor) validate() error {
	if b.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBackend)
	}
	if b.Address == "" {
		return fmt.Errorf("%w: %s: address is required", ErrInvalidBackend, b.Name)
	}
	if len(b.Tools) == 0 {
		return fmt.Errorf("%w: %s: no tools", ErrInvalidBackend, b.Name)
	}

	names := make(map[string]bool, len(b.Tools))
	for i := range b.Tools {
		t := &b.Tools[i]
		if t.Kind == "" {
			t.Kind = KindRead
		}
		switch {
		case t.Name == "":
			return fmt.Errorf("%w: %s: tool %d has no name", ErrInvalidTool, b.Name, i)
		case names[t.Name]:
			return fmt.Errorf("%w: %s.%s: duplicate name", ErrInvalidTool, b.Name, t.Name)
		case len(t.Roles) == 0:
			return fmt.Errorf("%w: %s.%s: roles are required", ErrInvalidTool, b.Name, t.Name)
		case !t.Kind.Valid():
			return fmt.Errorf("%w: %s.%s: unknown kind %q", ErrInvalidTool, b.Name, t.Name, t.Kind)
		}
		names[t.Name] = true
	}
	for _, t := range b.Tools {
		if t.ListTool != "" && !names[t.ListTool] {
			return fmt.Errorf("%w: %s.%s: list_tool %q not found", ErrInvalidTool, b.Name, t.Name, t.ListTool)
		}
	}
	return nil
}

func intersects(have, need []string) bool {
	for _, n := range need {
		if slices.Contains(have, n) {
			return true
		}
	}
	return false
}
