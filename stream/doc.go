// Package stream turns one user query into a stream of events.
//
// The Coordinator runs an explicit state machine per query:
//
//	AWAITING_MODEL -> STREAMING_TEXT -> DONE
//	AWAITING_MODEL -> TOOL_CALL_PENDING -> AWAITING_MODEL
//	any non-terminal state -> ERROR
//
// Model text is forwarded as it arrives. Tool calls are executed through a
// ToolExecutor and their envelopes, truncation warnings included, are appended
// to the model context for the next turn. Incomplete list results also reach
// the client as pagination_hint events.
//
// SSEWriter renders events as server-sent events terminated by
// "data: [DONE]". OpenAIModel adapts any OpenAI-compatible chat completion
// endpoint to ModelClient.
package stream
