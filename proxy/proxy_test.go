package proxy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/backendtest"
	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/internalauth"
	"github.com/jonwraymond/toolgate/resilience"
	"github.com/jonwraymond/toolgate/routing"
)

var (
	hrReader = &auth.Principal{Subject: "alice", Username: "alice", Roles: []string{"hr-read"}}
	hrWriter = &auth.Principal{Subject: "carol", Roles: []string{"hr-write"}}
	salesRep = &auth.Principal{Subject: "bob", Roles: []string{"sales-read"}}
	exec     = &auth.Principal{Subject: "eve", Roles: []string{"executive"}}
)

type fixture struct {
	proxy *Proxy
	hr    *backendtest.Backend
	sales *backendtest.Backend
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, cfg, resilience.BackendPolicy{InitialDelay: time.Millisecond, Timeout: 2 * time.Second})
}

func newFixtureWithPolicy(t *testing.T, cfg Config, policy resilience.BackendPolicy) *fixture {
	t.Helper()

	signer, err := internalauth.NewSigner(internalauth.Config{Secret: []byte(strings.Repeat("k", 32))})
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	hr, _ := backendtest.HR(signer)
	sales, _ := backendtest.Sales(signer)

	router, err := routing.NewRouter(routing.Config{Backends: []routing.BackendDescriptor{
		{Name: "hr", Address: hr.Serve(t), Tools: []routing.ToolDescriptor{
			{Name: "list_employees", Roles: []string{"hr-read", "hr-write"}, Kind: routing.KindList},
			{Name: "get_employee", Roles: []string{"hr-read", "hr-write"}, Kind: routing.KindLookup, ListTool: "list_employees"},
			{Name: "delete_employee", Roles: []string{"hr-write"}, Kind: routing.KindMutating},
		}},
		{Name: "sales", Address: sales.Serve(t), Tools: []routing.ToolDescriptor{
			{Name: "list_opportunities", Roles: []string{"sales-read"}, Kind: routing.KindList},
			{Name: "get_opportunity", Roles: []string{"sales-read"}, Kind: routing.KindLookup, ListTool: "list_opportunities"},
		}},
	}})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	f := &fixture{hr: hr, sales: sales, now: time.Now()}
	clock := func() time.Time { return f.now }

	if cfg.CursorSecret == nil {
		cfg.CursorSecret = testSecret
	}
	pool := resilience.NewPool(policy)
	store := cache.NewMemoryCache(cache.DefaultPolicy(), cache.WithClock(clock))

	f.proxy, err = New(router, signer, store, cfg, WithPool(pool), WithClock(clock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func success(t *testing.T, resp envelope.Response) ([]any, envelope.Metadata) {
	t.Helper()
	s, ok := resp.Success()
	if !ok {
		e, _ := resp.Err()
		t.Fatalf("resp status = %v (%v), want success", resp.Status(), e)
	}
	rows, _ := s.Records()
	return rows, s.Metadata
}

func code(resp envelope.Response) envelope.Code {
	if e, ok := resp.Err(); ok {
		return e.Code
	}
	return ""
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil, nil, Config{}); err != ErrNilRouter {
		t.Errorf("New(nil router) error = %v, want ErrNilRouter", err)
	}
}

func TestInvoke_FiftyNineEmployees(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{Backend: "hr", Tool: "list_employees", Principal: hrReader}

	rows, meta := success(t, f.proxy.Invoke(ctx, req))
	if len(rows) != 50 {
		t.Fatalf("len(rows) = %d, want 50", len(rows))
	}
	if !meta.Truncated || !meta.HasMore || meta.TotalCount != "50+" || meta.ReturnedCount != 50 {
		t.Errorf("Metadata = %+v", meta)
	}
	if meta.NextCursor == "" {
		t.Fatal("NextCursor is empty")
	}
	if !strings.Contains(meta.Warning, "incomplete") {
		t.Errorf("Warning = %q", meta.Warning)
	}

	req.Cursor = meta.NextCursor
	rows, next := success(t, f.proxy.Invoke(ctx, req))
	if len(rows) != 9 {
		t.Fatalf("len(rows) = %d, want 9", len(rows))
	}
	if next.Truncated || next.HasMore || next.NextCursor != "" || next.TotalCount != "59" {
		t.Errorf("Metadata = %+v", next)
	}
	if first := rows[0].(map[string]any)["employee_id"]; first != "emp-051" {
		t.Errorf("first row = %v, want emp-051", first)
	}

	if got := code(f.proxy.Invoke(ctx, req)); got != envelope.CodeInvalidCursor {
		t.Errorf("reused cursor code = %v, want INVALID_CURSOR", got)
	}
}

func TestInvoke_ExactPageIsNotTruncated(t *testing.T) {
	f := newFixture(t, Config{})
	rows, meta := success(t, f.proxy.Invoke(context.Background(), Request{
		Backend: "hr", Tool: "list_employees", Principal: hrReader,
		Arguments: map[string]any{"department": "Engineering"},
	}))
	if len(rows) != 12 || meta.Truncated || meta.HasMore || meta.TotalCount != "12" {
		t.Errorf("len = %d, Metadata = %+v", len(rows), meta)
	}
}

func TestInvoke_PageSize(t *testing.T) {
	f := newFixture(t, Config{PageSize: 50, MaxPageSize: 100})

	tests := []struct {
		name      string
		size      int
		wantRows  int
		truncated bool
	}{
		{"default", 0, 50, true},
		{"smaller", 5, 5, true},
		{"capped", 500, 59, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, meta := success(t, f.proxy.Invoke(context.Background(), Request{
				Backend: "hr", Tool: "list_employees", Principal: hrReader, PageSize: tt.size,
			}))
			if len(rows) != tt.wantRows || meta.Truncated != tt.truncated {
				t.Errorf("len = %d truncated = %v, want %d %v", len(rows), meta.Truncated, tt.wantRows, tt.truncated)
			}
		})
	}
}

func TestInvoke_CursorKeepsFilters(t *testing.T) {
	f := newFixture(t, Config{PageSize: 5})
	ctx := context.Background()
	req := Request{Backend: "hr", Tool: "list_employees", Principal: hrReader,
		Arguments: map[string]any{"department": "Sales", "limit": 1000}}

	_, meta := success(t, f.proxy.Invoke(ctx, req))
	req.Cursor = meta.NextCursor
	req.Arguments = nil

	rows, _ := success(t, f.proxy.Invoke(ctx, req))
	for _, r := range rows {
		if d := r.(map[string]any)["department"]; d != "Sales" {
			t.Errorf("department = %v, want Sales", d)
		}
	}
}

func TestInvoke_CursorErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, meta := success(t, f.proxy.Invoke(ctx, Request{Backend: "hr", Tool: "list_employees", Principal: exec}))

	t.Run("bound to tool", func(t *testing.T) {
		got := f.proxy.Invoke(ctx, Request{Backend: "sales", Tool: "list_opportunities", Principal: exec, Cursor: meta.NextCursor})
		if code(got) != envelope.CodeInvalidCursor {
			t.Errorf("code = %v, want INVALID_CURSOR", code(got))
		}
	})

	t.Run("tampered", func(t *testing.T) {
		forged := "x" + meta.NextCursor[1:]
		got := f.proxy.Invoke(ctx, Request{Backend: "hr", Tool: "list_employees", Principal: exec, Cursor: forged})
		if code(got) != envelope.CodeInvalidCursor {
			t.Errorf("code = %v, want INVALID_CURSOR", code(got))
		}
	})

	t.Run("expired", func(t *testing.T) {
		f.now = f.now.Add(time.Hour)
		got := f.proxy.Invoke(ctx, Request{Backend: "hr", Tool: "list_employees", Principal: exec, Cursor: meta.NextCursor})
		e, _ := got.Err()
		if e == nil || e.Code != envelope.CodeInvalidCursor || e.SuggestedAction == "" {
			t.Errorf("resp = %+v, want INVALID_CURSOR with suggestion", e)
		}
	})

	t.Run("non-list tool", func(t *testing.T) {
		got := f.proxy.Invoke(ctx, Request{Backend: "hr", Tool: "get_employee", Principal: exec, Cursor: "abc"})
		if code(got) != envelope.CodeValidation {
			t.Errorf("code = %v, want VALIDATION_ERROR", code(got))
		}
	})
}

func TestInvoke_CursorSurvivesBackendOutage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{Backend: "hr", Tool: "list_employees", Principal: hrReader}

	_, meta := success(t, f.proxy.Invoke(ctx, req))
	req.Cursor = meta.NextCursor

	f.hr.FailNext(2)
	if got := code(f.proxy.Invoke(ctx, req)); got != envelope.CodeBackendUnavailable {
		t.Fatalf("code during outage = %v, want BACKEND_UNAVAILABLE", got)
	}

	rows, _ := success(t, f.proxy.Invoke(ctx, req))
	if len(rows) != 9 {
		t.Errorf("len(rows) after outage = %d, want 9", len(rows))
	}
	if got := code(f.proxy.Invoke(ctx, req)); got != envelope.CodeInvalidCursor {
		t.Errorf("reused cursor code = %v, want INVALID_CURSOR", got)
	}
}

func TestInvoke_CursorBoundToCaller(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{Backend: "hr", Tool: "list_employees", Principal: hrReader}

	_, meta := success(t, f.proxy.Invoke(ctx, req))
	req.Cursor = meta.NextCursor

	other := req
	other.Principal = hrWriter
	if got := code(f.proxy.Invoke(ctx, other)); got != envelope.CodeInvalidCursor {
		t.Fatalf("code for another caller = %v, want INVALID_CURSOR", got)
	}
	if rows, _ := success(t, f.proxy.Invoke(ctx, req)); len(rows) != 9 {
		t.Errorf("len(rows) = %d, want 9", len(rows))
	}
}

func TestInvoke_UnauthorizedLeaksNothing(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.proxy.Invoke(context.Background(), Request{
		Backend: "hr", Tool: "get_employee", Principal: salesRep,
		Arguments: map[string]any{"employee_id": "emp-001"},
	})
	if code(resp) != envelope.CodeAuthorization {
		t.Fatalf("code = %v, want AUTHORIZATION_ERROR", code(resp))
	}
	raw, _ := json.Marshal(resp)
	for _, leak := range []string{"Employee 1", "salary", "ssn", "emp-001"} {
		if strings.Contains(string(raw), leak) {
			t.Errorf("response leaks %q: %s", leak, raw)
		}
	}
	if n := f.hr.Calls("get_employee"); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestInvoke_LookupNotFoundSuggestsListTool(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.proxy.Invoke(context.Background(), Request{
		Backend: "hr", Tool: "get_employee", Principal: hrReader,
		Arguments: map[string]any{"employee_id": "emp-404"},
	})
	e, ok := resp.Err()
	if !ok || e.Code != envelope.CodeNotFound {
		t.Fatalf("resp = %+v, want NOT_FOUND", resp)
	}
	if !strings.Contains(e.SuggestedAction, "list_employees") {
		t.Errorf("SuggestedAction = %q", e.SuggestedAction)
	}
}

func TestInvoke_Lookup(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.proxy.Invoke(context.Background(), Request{
		Backend: "hr", Tool: "get_employee", Principal: hrReader,
		Arguments: map[string]any{"employee_id": "emp-007"},
	})
	s, ok := resp.Success()
	if !ok {
		t.Fatalf("resp status = %v, want success", resp.Status())
	}
	if s.Metadata.Truncated {
		t.Error("lookup result truncated")
	}
	if got := s.Data.(map[string]any)["employee_id"]; got != "emp-007" {
		t.Errorf("employee_id = %v", got)
	}

	u, _ := f.hr.LastUser()
	if u.UserID != "alice" || len(u.Roles) != 1 || u.Roles[0] != "hr-read" {
		t.Errorf("userContext = %+v", u)
	}
}

func TestInvoke_MutatingForwardsConfirmation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{Backend: "hr", Tool: "delete_employee", Principal: hrWriter,
		Arguments: map[string]any{"employee_id": "emp-003"}}

	if got := f.proxy.Invoke(ctx, req); got.Status() != envelope.StatusPending {
		t.Fatalf("status = %v, want pending_confirmation", got.Status())
	}

	req.Confirmed = true
	if got := f.proxy.Invoke(ctx, req); got.Status() != envelope.StatusSuccess {
		t.Fatalf("confirmed status = %v, want success", got.Status())
	}
}

func TestInvoke_RetriesTransientFailureOnce(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := Request{Backend: "sales", Tool: "list_opportunities", Principal: salesRep}

	f.sales.FailNext(1)
	if got := f.proxy.Invoke(ctx, req); got.Status() != envelope.StatusSuccess {
		t.Errorf("status after one failure = %v, want success", got.Status())
	}

	f.sales.FailNext(2)
	got := f.proxy.Invoke(ctx, req)
	e, ok := got.Err()
	if !ok || e.Code != envelope.CodeBackendUnavailable {
		t.Fatalf("resp = %+v, want BACKEND_UNAVAILABLE", got)
	}
	if e.SuggestedAction == "" {
		t.Error("SuggestedAction is empty")
	}
	if n := f.sales.Calls("list_opportunities"); n != 1 {
		t.Errorf("executed %d times, want 1", n)
	}
}

func TestInvoke_LateMutationIsNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		confirmed bool
	}{
		{"confirmed", true},
		{"unconfirmed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWithPolicy(t, Config{}, resilience.BackendPolicy{
				InitialDelay: time.Millisecond,
				Timeout:      50 * time.Millisecond,
				MaxAttempts:  3,
			})
			f.hr.SlowNext(1, 150*time.Millisecond)

			got := f.proxy.Invoke(context.Background(), Request{
				Backend: "hr", Tool: "delete_employee", Principal: hrWriter,
				Arguments: map[string]any{"employee_id": "emp-004"},
				Confirmed: tt.confirmed,
			})
			e, ok := got.Err()
			if !ok || e.Code != envelope.CodeBackendUnavailable {
				t.Fatalf("resp = %+v, want BACKEND_UNAVAILABLE", got)
			}
			if !strings.Contains(e.SuggestedAction, "check the current state") {
				t.Errorf("SuggestedAction = %q", e.SuggestedAction)
			}
			if n := f.hr.Calls("delete_employee"); n != 1 {
				t.Errorf("delete_employee executed %d times, want 1", n)
			}
		})
	}
}

func TestInvoke_LateReadIsRetried(t *testing.T) {
	f := newFixtureWithPolicy(t, Config{}, resilience.BackendPolicy{
		InitialDelay: time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	f.sales.SlowNext(1, 150*time.Millisecond)

	got := f.proxy.Invoke(context.Background(), Request{
		Backend: "sales", Tool: "get_opportunity", Principal: salesRep,
		Arguments: map[string]any{"opportunity_id": "opp-001"},
	})
	if got.Status() != envelope.StatusSuccess {
		t.Fatalf("status = %v, want success", got.Status())
	}
	if n := f.sales.Calls("get_opportunity"); n != 2 {
		t.Errorf("get_opportunity executed %d times, want 2", n)
	}
}

func TestInvoke_UnreachableBackend(t *testing.T) {
	signer, _ := internalauth.NewSigner(internalauth.Config{Secret: []byte(strings.Repeat("k", 32))})
	router, _ := routing.NewRouter(routing.Config{Backends: []routing.BackendDescriptor{
		{Name: "support", Address: "http://127.0.0.1:1", Tools: []routing.ToolDescriptor{
			{Name: "get_ticket", Roles: []string{"support-read"}, Kind: routing.KindLookup},
		}},
	}})
	p, err := New(router, signer, cache.NewMemoryCache(cache.DefaultPolicy()), Config{CursorSecret: testSecret},
		WithPool(resilience.NewPool(resilience.BackendPolicy{InitialDelay: time.Millisecond})))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := p.Invoke(context.Background(), Request{
		Backend: "support", Tool: "get_ticket",
		Principal: &auth.Principal{Subject: "s", Roles: []string{"support-read"}},
	})
	if code(got) != envelope.CodeBackendUnavailable {
		t.Errorf("code = %v, want BACKEND_UNAVAILABLE", code(got))
	}
}

func TestInvokeAll_Aggregates(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10})

	rows, meta := success(t, f.proxy.InvokeAll(context.Background(), Request{
		Backend: "hr", Tool: "list_employees", Principal: hrReader,
	}))
	if len(rows) != backendtest.EmployeeCount {
		t.Errorf("len(rows) = %d, want %d", len(rows), backendtest.EmployeeCount)
	}
	if meta.PagesFetched != 6 || meta.AggregationCapped || meta.Truncated || meta.HasMore || meta.Warning != "" {
		t.Errorf("Metadata = %+v", meta)
	}
	if meta.TotalCount != "59" || meta.ReturnedCount != 59 {
		t.Errorf("counts = %q/%d", meta.TotalCount, meta.ReturnedCount)
	}
}

func TestInvokeAll_StopsAtCeiling(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10, MaxAggregatePages: 2})
	ctx := context.Background()

	rows, meta := success(t, f.proxy.InvokeAll(ctx, Request{Backend: "hr", Tool: "list_employees", Principal: hrReader}))
	if len(rows) != 20 {
		t.Fatalf("len(rows) = %d, want 20", len(rows))
	}
	if !meta.AggregationCapped || !meta.HasMore || meta.PagesFetched != 2 || meta.TotalCount != "20+" {
		t.Errorf("Metadata = %+v", meta)
	}
	if meta.Warning == "" {
		t.Error("Warning is empty")
	}

	rows, _ = success(t, f.proxy.Invoke(ctx, Request{
		Backend: "hr", Tool: "list_employees", Principal: hrReader, Cursor: meta.NextCursor,
	}))
	if first := rows[0].(map[string]any)["employee_id"]; first != "emp-021" {
		t.Errorf("continuation starts at %v, want emp-021", first)
	}
}

func TestInvokeAll_NonListTool(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.proxy.InvokeAll(context.Background(), Request{
		Backend: "sales", Tool: "get_opportunity", Principal: salesRep,
		Arguments: map[string]any{"opportunity_id": "opp-001"},
	})
	if resp.Status() != envelope.StatusSuccess {
		t.Errorf("status = %v, want success", resp.Status())
	}
}

func TestInvokeMany_PreservesOrder(t *testing.T) {
	f := newFixture(t, Config{})

	reqs := []Request{
		{Backend: "sales", Tool: "get_opportunity", Principal: exec, Arguments: map[string]any{"opportunity_id": "opp-003"}},
		{Backend: "hr", Tool: "get_employee", Principal: exec, Arguments: map[string]any{"employee_id": "emp-404"}},
		{Backend: "hr", Tool: "get_employee", Principal: salesRep, Arguments: map[string]any{"employee_id": "emp-001"}},
		{Backend: "hr", Tool: "get_employee", Principal: exec, Arguments: map[string]any{"employee_id": "emp-002"}},
	}
	got := f.proxy.InvokeMany(context.Background(), reqs)
	if len(got) != len(reqs) {
		t.Fatalf("len = %d, want %d", len(got), len(reqs))
	}

	want := []envelope.Status{envelope.StatusSuccess, envelope.StatusError, envelope.StatusError, envelope.StatusSuccess}
	for i, w := range want {
		if got[i].Status() != w {
			t.Errorf("result %d status = %v, want %v", i, got[i].Status(), w)
		}
	}
	if code(got[1]) != envelope.CodeNotFound || code(got[2]) != envelope.CodeAuthorization {
		t.Errorf("codes = %v, %v", code(got[1]), code(got[2]))
	}
	s, _ := got[3].Success()
	if id := s.Data.(map[string]any)["employee_id"]; id != "emp-002" {
		t.Errorf("result 3 = %v, want emp-002", id)
	}
}
