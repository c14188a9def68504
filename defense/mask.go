package defense

import (
	"sort"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/envelope"
)

// MaskedValue replaces the value of a masked field.
const MaskedValue = "[masked]"

// DefaultMaskedFields are masked for every caller without an unmasking role.
var DefaultMaskedFields = []string{
	"salary",
	"compensation",
	"ssn",
	"social_security_number",
	"tax_id",
	"date_of_birth",
	"bank_account",
	"account_number",
	"routing_number",
	"iban",
}

// MaskerConfig configures a Masker.
type MaskerConfig struct {
	// Fields are masked in addition to DefaultMaskedFields.
	Fields []string

	// UnmaskRoles see every field unmasked.
	UnmaskRoles []string
}

// Masker hides sensitive fields from callers who may reach a tool but not
// every field it returns. Field names match case-insensitively, ignoring
// '_' and '-', so bank_account, bankAccount and Bank-Account are one field.
type Masker struct {
	fields map[string]bool
	unmask []string
}

// NewMasker creates a Masker.
func NewMasker(cfg MaskerConfig) *Masker {
	m := &Masker{
		fields: make(map[string]bool, len(DefaultMaskedFields)+len(cfg.Fields)),
		unmask: append([]string(nil), cfg.UnmaskRoles...),
	}
	for _, f := range DefaultMaskedFields {
		m.fields[normalizeField(f)] = true
	}
	for _, f := range cfg.Fields {
		m.fields[normalizeField(f)] = true
	}
	return m
}

// Exempt reports whether p sees unmasked data.
func (m *Masker) Exempt(p *auth.Principal) bool {
	return p.HasAnyRole(m.unmask...)
}

// Mask returns a copy of data with sensitive fields replaced, and the sorted
// names of the fields that were masked. data is never modified.
func (m *Masker) Mask(p *auth.Principal, data any) (any, []string) {
	if m.Exempt(p) {
		return data, nil
	}
	seen := make(map[string]bool)
	out := m.walk(data, seen)
	if len(seen) == 0 {
		return data, nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names
}

// MaskResponse masks the data of a success response, recording the masked
// fields in its metadata, and the confirmationData of a pending one. Errors
// pass through.
func (m *Masker) MaskResponse(p *auth.Principal, resp envelope.Response) envelope.Response {
	if pc, ok := resp.PendingConfirmation(); ok {
		data, masked := m.Mask(p, pc.ConfirmationData)
		if len(masked) == 0 {
			return resp
		}
		pc.ConfirmationData, _ = data.(map[string]any)
		return envelope.Pending(pc)
	}
	s, ok := resp.Success()
	if !ok {
		return resp
	}
	data, masked := m.Mask(p, s.Data)
	if len(masked) == 0 {
		return resp
	}
	meta := s.Metadata
	meta.Masked = masked
	return envelope.OK(data, meta)
}

func (m *Masker) walk(v any, seen map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if m.fields[normalizeField(k)] && val != nil {
				out[k] = MaskedValue
				seen[k] = true
				continue
			}
			out[k] = m.walk(val, seen)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = m.walk(val, seen)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = m.walk(val, seen)
		}
		return out
	default:
		return v
	}
}

func normalizeField(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))
}
