package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonwraymond/toolgate/resilience"
)

// Pinger is anything that can prove it is reachable, such as the redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports unhealthy when Ping fails.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a PingChecker.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string { return c.name }

// Check pings the component.
func (c *PingChecker) Check(ctx context.Context) Result {
	if err := c.pinger.Ping(ctx); err != nil {
		return Unhealthy(c.name+" unreachable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}
	return Healthy(c.name + " reachable")
}

// BackendChecker calls a backend's GET /health and expects
// {"status":"healthy"}.
type BackendChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewBackendChecker creates a BackendChecker for the backend at address.
func NewBackendChecker(name, address string, client *http.Client) *BackendChecker {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &BackendChecker{
		name:   "backend:" + name,
		url:    strings.TrimRight(address, "/") + "/health",
		client: client,
	}
}

// Name returns backend:<name>.
func (c *BackendChecker) Name() string { return c.name }

// Check fetches the backend's health endpoint.
func (c *BackendChecker) Check(ctx context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Unhealthy("bad health url", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Unhealthy("backend unreachable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil || resp.StatusCode != http.StatusOK {
		return Unhealthy(fmt.Sprintf("backend answered %d", resp.StatusCode), ErrCheckFailed)
	}
	if body.Status != StatusHealthy.String() {
		return Degraded("backend reports " + body.Status)
	}
	return Healthy("backend healthy")
}

// StateReporter exposes circuit states per backend.
type StateReporter interface {
	States() map[string]resilience.State
}

// CircuitChecker reports degraded while any backend circuit is not closed.
type CircuitChecker struct {
	states StateReporter
}

// NewCircuitChecker creates a CircuitChecker.
func NewCircuitChecker(states StateReporter) *CircuitChecker {
	return &CircuitChecker{states: states}
}

// Name returns "circuits".
func (c *CircuitChecker) Name() string { return "circuits" }

// Check inspects every circuit.
func (c *CircuitChecker) Check(context.Context) Result {
	states := c.states.States()
	details := make(map[string]any, len(states))
	var tripped []string
	for name, s := range states {
		details[name] = s.String()
		if s != resilience.StateClosed {
			tripped = append(tripped, name)
		}
	}
	if len(tripped) == 0 {
		return Healthy("all circuits closed").WithDetails(details)
	}
	sort.Strings(tripped)
	return Degraded("circuit not closed: " + strings.Join(tripped, ", ")).WithDetails(details)
}
