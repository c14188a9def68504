package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/toolgate/envelope"
)

// Store is a mutable, ordered record set shared by a backend's tools.
type Store struct {
	idKey string

	mu      sync.Mutex
	records []Record
}

// NewStore creates a Store keyed by idKey.
func NewStore(idKey string, records []Record) *Store {
	return &Store{idKey: idKey, records: records}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Find returns the record with the given id.
func (s *Store) Find(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if fmt.Sprint(r[s.idKey]) == id {
			return copyRecord(r), true
		}
	}
	return nil, false
}

// Update applies fn to the record with the given id.
func (s *Store) Update(id string, fn func(Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if fmt.Sprint(r[s.idKey]) == id {
			fn(r)
			return true
		}
	}
	return false
}

// Remove deletes the record with the given id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if fmt.Sprint(r[s.idKey]) == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) filter(match func(Record) bool) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if match(r) {
			out = append(out, copyRecord(r))
		}
	}
	return out
}

func copyRecord(r Record) Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// List serves a list tool. Arguments named in filters must equal the
// record's field; limit and offset window the result.
func List(s *Store, filters ...string) Handler {
	return func(_ context.Context, call Call) envelope.Response {
		matched := s.filter(func(r Record) bool {
			for _, f := range filters {
				want, ok := call.Arguments[f]
				if ok && want != "" && fmt.Sprint(r[f]) != fmt.Sprint(want) {
					return false
				}
			}
			return true
		})

		offset := intArg(call.Arguments, "offset", 0)
		limit := intArg(call.Arguments, "limit", len(matched))
		if offset > len(matched) {
			offset = len(matched)
		}
		end := min(offset+limit, len(matched))

		rows := make([]any, 0, end-offset)
		for _, r := range matched[offset:end] {
			rows = append(rows, r)
		}
		return envelope.OK(rows, envelope.Metadata{})
	}
}

// Lookup serves a single-entity lookup keyed by the argument arg.
func Lookup(s *Store, arg, entity string) Handler {
	return func(_ context.Context, call Call) envelope.Response {
		id, ok := call.Arguments[arg]
		if !ok || fmt.Sprint(id) == "" {
			return envelope.Fail(envelope.Errorf(envelope.CodeValidation, "%s is required", arg).WithField(arg))
		}
		r, ok := s.Find(fmt.Sprint(id))
		if !ok {
			return envelope.Fail(envelope.Errorf(envelope.CodeNotFound, "%s %v not found", entity, id))
		}
		return envelope.OK(r, envelope.Metadata{})
	}
}

// Mutation serves a mutating tool. Unconfirmed calls return a pending
// confirmation describing the change; confirmed calls apply it.
func Mutation(s *Store, arg, entity string, describe func(Record, map[string]any) string, apply func(*Store, string, map[string]any) envelope.Response) Handler {
	return func(_ context.Context, call Call) envelope.Response {
		id, ok := call.Arguments[arg]
		if !ok || fmt.Sprint(id) == "" {
			return envelope.Fail(envelope.Errorf(envelope.CodeValidation, "%s is required", arg).WithField(arg))
		}
		key := fmt.Sprint(id)
		r, ok := s.Find(key)
		if !ok {
			return envelope.Fail(envelope.Errorf(envelope.CodeNotFound, "%s %v not found", entity, id))
		}
		if !call.Confirmed {
			return envelope.Pending(envelope.PendingConfirmation{
				Message:          describe(r, call.Arguments),
				ConfirmationData: map[string]any{arg: key},
			})
		}
		return apply(s, key, call.Arguments)
	}
}

func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		if v >= 0 {
			return int(v)
		}
	case int:
		if v >= 0 {
			return v
		}
	}
	return def
}
