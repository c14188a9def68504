package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the wire discriminator of a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending_confirmation"
)

// ErrAmbiguousEnvelope is returned when decoding an envelope whose status does
// not match exactly one populated variant.
var ErrAmbiguousEnvelope = errors.New("envelope: status does not match exactly one variant")

// Metadata describes a successful result.
type Metadata struct {
	// Truncated is true when more records exist than were returned.
	Truncated bool `json:"truncated,omitempty"`

	// TotalCount is the record count, or "N+" when truncated.
	TotalCount string `json:"totalCount,omitempty"`

	// ReturnedCount is the number of records in Data.
	ReturnedCount int `json:"returnedCount,omitempty"`

	// HasMore is true when a NextCursor can be followed.
	HasMore bool `json:"hasMore"`

	// NextCursor is an opaque, single-use cursor for the next page.
	NextCursor string `json:"nextCursor,omitempty"`

	// Warning is addressed to the model consuming the result.
	Warning string `json:"warning,omitempty"`

	// PagesFetched is set on aggregated results.
	PagesFetched int `json:"pagesFetched,omitempty"`

	// AggregationCapped is true when aggregation stopped at the page ceiling.
	AggregationCapped bool `json:"aggregationCapped,omitempty"`

	// Masked lists fields that were masked before leaving the gateway.
	Masked []string `json:"masked,omitempty"`
}

// Success is the data variant of a Response.
type Success struct {
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Records returns Data as a list of records, if it is one.
func (s Success) Records() ([]any, bool) {
	rows, ok := s.Data.([]any)
	return rows, ok
}

// PendingConfirmation is the deferred-action variant of a Response.
type PendingConfirmation struct {
	ConfirmationID   string         `json:"confirmationId"`
	Message          string         `json:"message"`
	ConfirmationData map[string]any `json:"confirmationData,omitempty"`
}

// Response is a tagged union: exactly one of Success, Error, or
// PendingConfirmation is active. The zero value is treated as an
// INTERNAL_ERROR.
type Response struct {
	success *Success
	err     *Error
	pending *PendingConfirmation
}

// OK creates a success response.
func OK(data any, meta Metadata) Response {
	return Response{success: &Success{Data: data, Metadata: meta}}
}

// Fail creates an error response.
func Fail(err *Error) Response {
	if err == nil {
		err = NewError(CodeInternal, "empty error")
	}
	return Response{err: err}
}

// FailWith converts err and creates an error response.
func FailWith(err error) Response {
	return Fail(FromError(err))
}

// Pending creates a pending-confirmation response.
func Pending(p PendingConfirmation) Response {
	return Response{pending: &p}
}

// Status returns the active variant's discriminator.
func (r Response) Status() Status {
	switch {
	case r.success != nil:
		return StatusSuccess
	case r.pending != nil:
		return StatusPending
	default:
		return StatusError
	}
}

// Success returns the success variant.
func (r Response) Success() (Success, bool) {
	if r.success == nil {
		return Success{}, false
	}
	return *r.success, true
}

// Err returns the error variant. The zero Response yields INTERNAL_ERROR.
func (r Response) Err() (*Error, bool) {
	if r.success != nil || r.pending != nil {
		return nil, false
	}
	if r.err == nil {
		return NewError(CodeInternal, "empty response"), true
	}
	return r.err, true
}

// PendingConfirmation returns the pending variant.
func (r Response) PendingConfirmation() (PendingConfirmation, bool) {
	if r.pending == nil {
		return PendingConfirmation{}, false
	}
	return *r.pending, true
}

// Match calls exactly one of the handlers according to the active variant.
func (r Response) Match(onSuccess func(Success), onError func(*Error), onPending func(PendingConfirmation)) {
	if s, ok := r.Success(); ok {
		onSuccess(s)
		return
	}
	if p, ok := r.PendingConfirmation(); ok {
		onPending(p)
		return
	}
	e, _ := r.Err()
	onError(e)
}

// Fold maps a Response to a value, handling every variant.
func Fold[T any](r Response, onSuccess func(Success) T, onError func(*Error) T, onPending func(PendingConfirmation) T) T {
	var out T
	r.Match(
		func(s Success) { out = onSuccess(s) },
		func(e *Error) { out = onError(e) },
		func(p PendingConfirmation) { out = onPending(p) },
	)
	return out
}

// wire is the JSON form shared by backends, the gateway and clients.
type wire struct {
	Status           Status         `json:"status"`
	Data             any            `json:"data,omitempty"`
	Metadata         *Metadata      `json:"metadata,omitempty"`
	Code             Code           `json:"code,omitempty"`
	Message          string         `json:"message,omitempty"`
	SuggestedAction  string         `json:"suggestedAction,omitempty"`
	Field            string         `json:"field,omitempty"`
	ConfirmationID   string         `json:"confirmationId,omitempty"`
	ConfirmationData map[string]any `json:"confirmationData,omitempty"`
}

// MarshalJSON encodes the active variant.
func (r Response) MarshalJSON() ([]byte, error) {
	w := Fold(r,
		func(s Success) wire {
			meta := s.Metadata
			data := s.Data
			if data == nil {
				data = json.RawMessage("null")
			}
			return wire{Status: StatusSuccess, Data: data, Metadata: &meta}
		},
		func(e *Error) wire {
			return wire{
				Status:          StatusError,
				Code:            e.Code,
				Message:         e.Message,
				SuggestedAction: e.SuggestedAction,
				Field:           e.Field,
			}
		},
		func(p PendingConfirmation) wire {
			return wire{
				Status:           StatusPending,
				ConfirmationID:   p.ConfirmationID,
				Message:          p.Message,
				ConfirmationData: p.ConfirmationData,
			}
		},
	)
	return json.Marshal(w)
}

// UnmarshalJSON decodes an envelope, rejecting ambiguous shapes.
func (r *Response) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	hasSuccess := w.Data != nil || w.Metadata != nil
	hasError := w.Code != ""
	hasPending := w.ConfirmationID != ""

	switch w.Status {
	case StatusSuccess:
		if hasError || hasPending {
			return ErrAmbiguousEnvelope
		}
		meta := Metadata{}
		if w.Metadata != nil {
			meta = *w.Metadata
		}
		*r = OK(w.Data, meta)
	case StatusError:
		if hasSuccess || hasPending || !hasError {
			return ErrAmbiguousEnvelope
		}
		*r = Fail(&Error{
			Code:            w.Code,
			Message:         w.Message,
			SuggestedAction: w.SuggestedAction,
			Field:           w.Field,
		})
	case StatusPending:
		// Backends may omit the id; the gateway assigns its own.
		if hasSuccess || hasError {
			return ErrAmbiguousEnvelope
		}
		*r = Pending(PendingConfirmation{
			ConfirmationID:   w.ConfirmationID,
			Message:          w.Message,
			ConfirmationData: w.ConfirmationData,
		})
	default:
		return fmt.Errorf("envelope: unknown status %q", w.Status)
	}
	return nil
}
