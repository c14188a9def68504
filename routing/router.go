package routing

import (
	"fmt"
	"sort"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/envelope"
)

// DefaultWildcardRole is the role that bypasses route filtering.
const DefaultWildcardRole = "executive"

// Config is the static route table.
type Config struct {
	// WildcardRole grants every tool on every backend.
	// Default: "executive"
	WildcardRole string `yaml:"wildcard_role"`

	Backends []BackendDescriptor `yaml:"backends"`
}

// Route is a tool reachable by a caller.
type Route struct {
	Backend string
	Tool    ToolDescriptor
}

// Router answers access questions against the route table. It is immutable
// after construction and safe for concurrent use.
type Router struct {
	wildcard string
	backends []BackendDescriptor
	byName   map[string]int
}

// NewRouter validates cfg and builds a Router.
func NewRouter(cfg Config) (*Router, error) {
	if len(cfg.Backends) == 0 {
		return nil, ErrNoBackends
	}
	if cfg.WildcardRole == "" {
		cfg.WildcardRole = DefaultWildcardRole
	}

	backends := make([]BackendDescriptor, len(cfg.Backends))
	for i, b := range cfg.Backends {
		b.Tools = append([]ToolDescriptor(nil), b.Tools...)
		if err := b.validate(); err != nil {
			return nil, err
		}
		backends[i] = b
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].Name < backends[j].Name })

	r := &Router{wildcard: cfg.WildcardRole, backends: backends, byName: make(map[string]int, len(backends))}
	for i, b := range backends {
		if _, dup := r.byName[b.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, b.Name)
		}
		r.byName[b.Name] = i
	}
	return r, nil
}

// WildcardRole returns the configured wildcard role.
func (r *Router) WildcardRole() string { return r.wildcard }

// Backend returns the named backend descriptor.
func (r *Router) Backend(name string) (BackendDescriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return BackendDescriptor{}, false
	}
	return r.backends[i], true
}

// Backends returns every backend, sorted by name.
func (r *Router) Backends() []BackendDescriptor {
	return append([]BackendDescriptor(nil), r.backends...)
}

// Accessible returns the sorted names of backends with at least one tool the
// roles can reach.
func (r *Router) Accessible(roles []string) []string {
	var out []string
	for _, b := range r.backends {
		for _, t := range b.Tools {
			if r.permits(roles, t) {
				out = append(out, b.Name)
				break
			}
		}
	}
	return out
}

// Tools returns every tool the roles can reach, ordered by backend then
// declaration order.
func (r *Router) Tools(roles []string) []Route {
	var out []Route
	for _, b := range r.backends {
		for _, t := range b.Tools {
			if r.permits(roles, t) {
				out = append(out, Route{Backend: b.Name, Tool: t})
			}
		}
	}
	return out
}

// Authorize checks that p may call backend.tool and returns the descriptors.
// Denials carry no information beyond the requested names.
func (r *Router) Authorize(p *auth.Principal, backend, tool string) (BackendDescriptor, ToolDescriptor, error) {
	if p == nil {
		return BackendDescriptor{}, ToolDescriptor{}, envelope.NewError(envelope.CodeAuthentication, "MISSING_TOKEN")
	}
	b, ok := r.Backend(backend)
	if !ok {
		return BackendDescriptor{}, ToolDescriptor{}, envelope.Errorf(envelope.CodeNotFound, "unknown backend %q", backend).
			WithSuggestion("list reachable backends with GET /api/backends")
	}
	t, ok := b.Tool(tool)
	if !ok {
		return BackendDescriptor{}, ToolDescriptor{}, envelope.Errorf(envelope.CodeNotFound, "unknown tool %q on backend %q", tool, backend).
			WithSuggestion("list reachable tools with GET /api/backends")
	}
	if !r.permits(p.Roles, t) {
		return BackendDescriptor{}, ToolDescriptor{}, envelope.Errorf(envelope.CodeAuthorization,
			"role does not permit %s.%s", backend, tool)
	}
	return b, t, nil
}

func (r *Router) permits(roles []string, t ToolDescriptor) bool {
	for _, role := range roles {
		if role == r.wildcard {
			return true
		}
	}
	return intersects(roles, t.Roles)
}
