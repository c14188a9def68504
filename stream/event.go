package stream

import "github.com/jonwraymond/toolgate/envelope"

// EventType discriminates stream events.
type EventType string

const (
	EventText           EventType = "text"
	EventError          EventType = "error"
	EventPaginationHint EventType = "pagination_hint"
	EventToolStatus     EventType = "tool_status"
)

// Event is one element of a client stream.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ToolStatus reports progress of one tool call to the client.
type ToolStatus struct {
	Backend string `json:"backend"`
	Tool    string `json:"tool"`

	// Status is "running", or the envelope status or error code of the result.
	Status string `json:"status"`

	// ConfirmationID and Message are set when the call awaits approval.
	ConfirmationID string `json:"confirmationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// PaginationHint tells the client a tool result was incomplete.
type PaginationHint struct {
	Backend           string `json:"backend"`
	Tool              string `json:"tool"`
	ReturnedCount     int    `json:"returnedCount"`
	TotalCount        string `json:"totalCount,omitempty"`
	NextCursor        string `json:"nextCursor,omitempty"`
	AggregationCapped bool   `json:"aggregationCapped,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// TextEvent carries a text delta.
func TextEvent(text string) Event {
	return Event{Type: EventText, Payload: text}
}

// ErrorEvent carries a structured error.
func ErrorEvent(e *envelope.Error) Event {
	return Event{Type: EventError, Payload: e}
}
