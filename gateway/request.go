package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonwraymond/toolgate/envelope"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query" validate:"required,max=8192"`
}

// ToolRequest is the body of POST /api/tools/{backend}/{tool}.
type ToolRequest struct {
	Arguments map[string]any `json:"arguments"`

	// Cursor continues a previous truncated list result.
	Cursor string `json:"cursor,omitempty" validate:"omitempty,max=4096"`

	// All aggregates pages up to the gateway ceiling.
	All bool `json:"all,omitempty" validate:"excluded_with=Cursor"`

	// PageSize overrides the default page size, within the gateway maximum.
	PageSize int `json:"pageSize,omitempty" validate:"gte=0"`
}

// ConfirmRequest is the body of POST /api/confirm/{confirmationID}.
type ConfirmRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// decodeJSON reads a JSON body into dst. An empty body is accepted when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) *envelope.Error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && allowEmpty:
	case errors.Is(err, io.EOF):
		return envelope.NewError(envelope.CodeValidation, "request body is required")
	case errors.As(err, &tooLarge):
		return envelope.Errorf(envelope.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit)
	default:
		return envelope.NewError(envelope.CodeValidation, "request body is not valid JSON").
			WithSuggestion("send a JSON object with Content-Type: application/json")
	}
	return validateStruct(dst)
}

// validateStruct checks validate tags and reports the first failing field.
func validateStruct(v any) *envelope.Error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return envelope.Wrap(envelope.CodeValidation, "invalid request", err)
	}
	fe := fields[0]
	return envelope.Errorf(envelope.CodeValidation, "%s %s", fe.Field(), describe(fe)).WithField(fe.Field())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "excluded_with":
		return "cannot be combined with cursor"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
