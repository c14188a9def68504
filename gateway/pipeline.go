package gateway

import (
	"context"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/confirm"
	"github.com/jonwraymond/toolgate/defense"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/proxy"
	"github.com/jonwraymond/toolgate/stream"
)

// Pipeline runs a tool call through every gateway stage: authorization and
// pagination in the proxy, confirmation parking for mutating calls, then
// field masking for the caller. The REST tool route and the streaming
// coordinator both call it.
type Pipeline struct {
	proxy   *proxy.Proxy
	confirm *confirm.Coordinator
	masker  *defense.Masker
}

var _ stream.ToolExecutor = (*Pipeline)(nil)

// NewPipeline creates a Pipeline.
func NewPipeline(px *proxy.Proxy, co *confirm.Coordinator, masker *defense.Masker) (*Pipeline, error) {
	switch {
	case px == nil:
		return nil, ErrNilProxy
	case co == nil:
		return nil, ErrNilConfirm
	case masker == nil:
		return nil, ErrNilMasker
	}
	return &Pipeline{proxy: px, confirm: co, masker: masker}, nil
}

// Invoke runs req. Confirmed is always cleared: only Resolve executes a
// mutating call.
func (pl *Pipeline) Invoke(ctx context.Context, req proxy.Request) envelope.Response {
	req.Confirmed = false
	resp := pl.proxy.Invoke(ctx, req)
	resp = pl.confirm.Intercept(ctx, req.Principal, req, resp)
	return pl.masker.MaskResponse(req.Principal, resp)
}

// Execute runs a model-requested tool call.
func (pl *Pipeline) Execute(ctx context.Context, p *auth.Principal, call stream.ToolInvocation) envelope.Response {
	return pl.Invoke(ctx, proxy.Request{
		Backend:   call.Backend,
		Tool:      call.Tool,
		Arguments: call.Arguments,
		Principal: p,
		Cursor:    call.Cursor,
		All:       call.All,
	})
}

// Resolve approves or cancels a pending confirmation.
func (pl *Pipeline) Resolve(ctx context.Context, p *auth.Principal, id string, approved bool) envelope.Response {
	return pl.masker.MaskResponse(p, pl.confirm.Resolve(ctx, p, id, approved))
}

// State reports the lifecycle position of a confirmation id.
func (pl *Pipeline) State(ctx context.Context, id string) confirm.State {
	return pl.confirm.State(ctx, id)
}
