package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, frames []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, ch <-chan ModelChunk) []ModelChunk {
	t.Helper()
	var out []ModelChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestNewOpenAIModel_RequiresModel(t *testing.T) {
	if _, err := NewOpenAIModel(OpenAIConfig{APIKey: "k"}); !errors.Is(err, ErrNoModel) {
		t.Errorf("NewOpenAIModel() error = %v, want %v", err, ErrNoModel)
	}
}

func TestOpenAIModel_StreamsText(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}, &seen)

	m, err := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIModel() error = %v", err)
	}
	ch, err := m.Stream(context.Background(), ModelRequest{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Tools:    []ToolSpec{{Name: "hr__list_employees", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	chunks := collect(t, ch)

	var text strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		text.WriteString(c.Text)
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	last := chunks[len(chunks)-1]
	if !last.Done || last.FinishReason != "stop" {
		t.Errorf("last chunk = %+v", last)
	}

	if seen["model"] != "test-model" || seen["stream"] != true {
		t.Errorf("request = %v", seen)
	}
	if tools, _ := seen["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools = %v", seen["tools"])
	}
}

func TestOpenAIModel_AssemblesToolCalls(t *testing.T) {
	srv := chatServer(t, []string{
		`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"hr__list_employees","arguments":"{\"depart"}}]}}]}`,
		`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ment\":\"Sales\"}"}}]}}]}`,
		`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"sales__list_opportunities","arguments":"{}"}}]}}]}`,
		`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)

	m, _ := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "test-model"})
	ch, err := m.Stream(context.Background(), ModelRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	chunks := collect(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %+v, want tool calls then done", chunks)
	}

	calls := chunks[0].ToolCalls
	want := []ToolCall{
		{ID: "call_1", Name: "hr__list_employees", Arguments: `{"department":"Sales"}`},
		{ID: "call_2", Name: "sales__list_opportunities", Arguments: `{}`},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call[%d] = %+v, want %+v", i, calls[i], want[i])
		}
	}
	if !chunks[1].Done || chunks[1].FinishReason != "tool_calls" {
		t.Errorf("done chunk = %+v", chunks[1])
	}
}

func TestOpenAIModel_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	m, _ := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "test-model"})
	if _, err := m.Stream(context.Background(), ModelRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}}); err == nil {
		t.Error("Stream() error = nil, want upstream failure")
	}
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "hr__get_employee", Arguments: `{"id":"emp-001"}`}}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"status":"success"}`},
	})
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].ToolCalls[0].Function.Name != "hr__get_employee" {
		t.Errorf("assistant = %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c1" {
		t.Errorf("tool = %+v", msgs[1])
	}
}
