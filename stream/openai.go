package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// ErrNoModel is returned when no model name is configured.
var ErrNoModel = errors.New("stream: model name is required")

// OpenAIConfig configures an OpenAIModel.
type OpenAIConfig struct {
	// BaseURL selects an OpenAI-compatible endpoint.
	// Default: the OpenAI API
	BaseURL string

	APIKey string

	// Model is the model name.
	Model string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// OpenAIModel streams generations from an OpenAI-compatible chat completion
// endpoint.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

var _ ModelClient = (*OpenAIModel)(nil)

// NewOpenAIModel creates an OpenAIModel.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.Model == "" {
		return nil, ErrNoModel
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

// Stream starts a streaming chat completion.
func (m *OpenAIModel) Stream(ctx context.Context, req ModelRequest) (<-chan ModelChunk, error) {
	creq := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   true,
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	s, err := m.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("stream: open completion: %w", err)
	}

	out := make(chan ModelChunk)
	go func() {
		defer close(out)
		defer s.Close()

		send := func(c ModelChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		calls := make(map[int]*ToolCall)
		finish := ""
		for {
			resp, err := s.Recv()
			if errors.Is(err, io.EOF) {
				if pending := assembled(calls); len(pending) > 0 {
					if !send(ModelChunk{ToolCalls: pending}) {
						return
					}
				}
				send(ModelChunk{Done: true, FinishReason: finish})
				return
			}
			if err != nil {
				send(ModelChunk{Err: fmt.Errorf("stream: receive: %w", err)})
				return
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					if !send(ModelChunk{Text: choice.Delta.Content}) {
						return
					}
				}
				for i, tc := range choice.Delta.ToolCalls {
					idx := i
					if tc.Index != nil {
						idx = *tc.Index
					}
					acc, ok := calls[idx]
					if !ok {
						acc = &ToolCall{}
						calls[idx] = acc
					}
					if tc.ID != "" {
						acc.ID = tc.ID
					}
					if tc.Function.Name != "" {
						acc.Name = tc.Function.Name
					}
					acc.Arguments += tc.Function.Arguments
				}
				if choice.FinishReason != "" {
					finish = string(choice.FinishReason)
				}
			}
		}
	}()
	return out, nil
}

func assembled(calls map[int]*ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *calls[i])
	}
	return out
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}
