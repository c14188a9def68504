package backendtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/internalauth"
)

// Record is one domain entity.
type Record = map[string]any

// User is the userContext a backend receives with every call.
type User struct {
	UserID         string   `json:"userId"`
	Username       string   `json:"username,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles"`
	OrganizationID string   `json:"organizationId,omitempty"`
}

// Call is the decoded body of POST /tools/<name>.
type Call struct {
	Arguments map[string]any `json:"arguments"`
	User      User           `json:"userContext"`
	Confirmed bool           `json:"confirmed,omitempty"`
}

// Handler executes one tool call.
type Handler func(ctx context.Context, call Call) envelope.Response

// Tool is a named tool served by a Backend.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Handler     Handler `json:"-"`
}

// Backend is an in-process tool-execution backend. It verifies the gateway
// token on every tool call and counts calls per tool.
type Backend struct {
	name   string
	signer *internalauth.Signer
	tools  map[string]Tool

	mu       sync.Mutex
	calls    map[string]int
	users    []User
	failNext int
	slowNext int
	slowFor  time.Duration
	down     bool
}

// New creates a Backend serving tools.
func New(name string, signer *internalauth.Signer, tools ...Tool) *Backend {
	b := &Backend{
		name:   name,
		signer: signer,
		tools:  make(map[string]Tool, len(tools)),
		calls:  make(map[string]int),
	}
	for _, t := range tools {
		b.tools[t.Name] = t
	}
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Handler returns the HTTP surface of the backend.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", b.health)
	r.Get("/tools", b.list)
	r.With(internalauth.Middleware(b.signer)).Post("/tools/{name}", b.invoke)
	return r
}

// Serve starts the backend on a test server and returns its base URL.
func (b *Backend) Serve(tb testing.TB) string {
	tb.Helper()
	srv := httptest.NewServer(b.Handler())
	tb.Cleanup(srv.Close)
	return srv.URL
}

// Calls returns how many times tool was executed.
func (b *Backend) Calls(tool string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[tool]
}

// LastUser returns the userContext of the most recent call.
func (b *Backend) LastUser() (User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.users) == 0 {
		return User{}, false
	}
	return b.users[len(b.users)-1], true
}

// FailNext makes the next n tool calls answer 503 with a plain-text body.
func (b *Backend) FailNext(n int) {
	b.mu.Lock()
	b.failNext = n
	b.mu.Unlock()
}

// SlowNext makes the next n tool calls execute normally but answer only
// after d, as a backend that applied a change and then stalled would.
func (b *Backend) SlowNext(n int, d time.Duration) {
	b.mu.Lock()
	b.slowNext, b.slowFor = n, d
	b.mu.Unlock()
}

// SetDown toggles the health endpoint between healthy and unhealthy.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *Backend) health(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (b *Backend) list(w http.ResponseWriter, _ *http.Request) {
	tools := make([]Tool, 0, len(b.tools))
	for _, t := range b.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"backend": b.name, "tools": tools})
}

func (b *Backend) invoke(w http.ResponseWriter, r *http.Request) {
	tool, ok := b.tools[chi.URLParam(r, "name")]
	if !ok {
		envelope.WriteError(w, envelope.Errorf(envelope.CodeNotFound, "unknown tool %q", chi.URLParam(r, "name")))
		return
	}

	var call Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		envelope.WriteError(w, envelope.NewError(envelope.CodeValidation, "request body must be JSON"))
		return
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	b.mu.Lock()
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	b.calls[tool.Name]++
	b.users = append(b.users, call.User)
	var delay time.Duration
	if b.slowNext > 0 {
		b.slowNext--
		delay = b.slowFor
	}
	b.mu.Unlock()

	resp := tool.Handler(r.Context(), call)
	if delay > 0 {
		time.Sleep(delay)
	}
	envelope.WriteJSON(w, envelope.StatusOf(resp), resp)
}
