package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/internalauth"
)

// UserContext identifies the end user to a backend.
type UserContext struct {
	UserID         string   `json:"userId"`
	Username       string   `json:"username,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles"`
	OrganizationID string   `json:"organizationId,omitempty"`
}

// UserContextOf derives the backend user context from p.
func UserContextOf(p *auth.Principal) UserContext {
	return UserContext{
		UserID:         p.Subject,
		Username:       p.Username,
		Email:          p.Email,
		Roles:          append([]string(nil), p.Roles...),
		OrganizationID: p.OrganizationID,
	}
}

// ToolCall is the body of POST /tools/<name>.
type ToolCall struct {
	Arguments   map[string]any `json:"arguments"`
	UserContext UserContext    `json:"userContext"`

	// Confirmed is set only when a human approved a pending action.
	Confirmed bool `json:"confirmed,omitempty"`
}

// client performs one HTTP round trip to a backend.
type client struct {
	http     *http.Client
	signer   *internalauth.Signer
	maxBytes int64
}

// send posts call to address and decodes the envelope. Transport failures,
// 5xx responses without an envelope and BACKEND_UNAVAILABLE envelopes are
// returned as errors so the resilience guards can retry them. Every other
// outcome is a Response.
func (c *client) send(ctx context.Context, address, tool string, call ToolCall) (envelope.Response, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return envelope.Response{}, fmt.Errorf("proxy: encode call: %w", err)
	}

	url := strings.TrimRight(address, "/") + "/tools/" + tool
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return envelope.Response{}, fmt.Errorf("proxy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(internalauth.Header, c.signer.Sign(call.UserContext.UserID, call.UserContext.Roles))

	res, err := c.http.Do(req)
	if err != nil {
		return envelope.Response{}, envelope.Wrap(envelope.CodeBackendUnavailable, "backend unreachable", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, c.maxBytes+1))
	if err != nil {
		return envelope.Response{}, envelope.Wrap(envelope.CodeBackendUnavailable, "backend response interrupted", err)
	}
	if int64(len(raw)) > c.maxBytes {
		return envelope.Fail(envelope.NewError(envelope.CodeInternal, "backend response too large").
			WithSuggestion("narrow the request with filters")), nil
	}

	var resp envelope.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		if res.StatusCode >= http.StatusInternalServerError {
			return envelope.Response{}, envelope.Wrap(envelope.CodeBackendUnavailable,
				fmt.Sprintf("backend returned status %d", res.StatusCode), err)
		}
		return envelope.Fail(envelope.Wrap(envelope.CodeInternal, "backend returned an unreadable response", err)), nil
	}
	if e, ok := resp.Err(); ok && e.Retryable() {
		return envelope.Response{}, e
	}
	return resp, nil
}
