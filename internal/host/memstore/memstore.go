// Package memstore is an in-memory host.Store used by tests and dry runs.
// It notifies an Observer on every Create and Write, the way host-side overrides do.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xelth-com/pcsyncgo/internal/host"
)

// Store keeps records per model in memory
type Store struct {
	mu       sync.RWMutex
	records  map[string]map[int64]host.Record
	nextID   int64
	observer host.Observer
	calls    []Call
}

// Call is one recorded mutation
type Call struct {
	Method string
	Model  string
	ID     int64
	Values host.Values
	Pull   bool
}

// New creates an empty store
func New() *Store {
	return &Store{records: make(map[string]map[int64]host.Record)}
}

// SetObserver registers the change observer
func (s *Store) SetObserver(o host.Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Seed inserts a record without notifying the observer and returns its id
func (s *Store) Seed(model string, values host.Values) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(model, values)
}

// Create implements host.Store
func (s *Store) Create(ctx context.Context, model string, values host.Values) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	id := s.insertLocked(model, values)
	s.calls = append(s.calls, Call{Method: "create", Model: model, ID: id, Values: clone(values), Pull: host.IsPull(ctx)})
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer.HostChanged(ctx, host.Change{Model: model, ID: id, Event: "create", Fields: keys(values), Values: clone(values)})
	}
	return id, nil
}

// Write implements host.Store
func (s *Store) Write(ctx context.Context, model string, id int64, values host.Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	rec, ok := s.records[model][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s(%d): %w", model, id, host.ErrNotFound)
	}
	for k, v := range values {
		rec[k] = normalize(v)
	}
	s.calls = append(s.calls, Call{Method: "write", Model: model, ID: id, Values: clone(values), Pull: host.IsPull(ctx)})
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer.HostChanged(ctx, host.Change{Model: model, ID: id, Event: "update", Fields: keys(values), Values: clone(values)})
	}
	return nil
}

// Search implements host.Store. Results are ordered by id.
func (s *Store) Search(ctx context.Context, model string, domain host.Domain, limit int) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, rec := range s.records[model] {
		if matches(rec, domain) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Read implements host.Store
func (s *Store) Read(ctx context.Context, model string, id int64, fields []string) (host.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[model][id]
	if !ok {
		return nil, nil
	}
	out := host.Record{"id": id}
	if len(fields) == 0 {
		for k, v := range rec {
			out[k] = v
		}
		return out, nil
	}
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		} else {
			out[f] = false
		}
	}
	return out, nil
}

// Get returns a copy of a stored record, nil when missing
func (s *Store) Get(model string, id int64) host.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[model][id]
	if !ok {
		return nil
	}
	out := host.Record{"id": id}
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Count returns the number of records of a model
func (s *Store) Count(model string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[model])
}

// Calls returns the recorded mutations
func (s *Store) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Store) insertLocked(model string, values host.Values) int64 {
	s.nextID++
	id := s.nextID
	rec := host.Record{}
	for k, v := range values {
		rec[k] = normalize(v)
	}
	if s.records[model] == nil {
		s.records[model] = make(map[int64]host.Record)
	}
	s.records[model][id] = rec
	return id
}

func matches(rec host.Record, domain host.Domain) bool {
	for _, c := range domain {
		if !matchOne(rec, c) {
			return false
		}
	}
	return true
}

func matchOne(rec host.Record, c host.Condition) bool {
	v, present := rec[c.Field]
	switch c.Op {
	case "=":
		if !present {
			return isEmpty(c.Value)
		}
		return equal(v, c.Value)
	case "!=":
		if !present {
			return !isEmpty(c.Value)
		}
		return !equal(v, c.Value)
	case "=ilike":
		s, ok := v.(string)
		want, _ := c.Value.(string)
		return ok && strings.EqualFold(s, want)
	case "in":
		list, ok := c.Value.([]int64)
		if !ok {
			return false
		}
		for _, want := range list {
			if equal(v, want) {
				return true
			}
		}
		return false
	}
	return false
}

func equal(have, want interface{}) bool {
	if ids, ok := have.([]int64); ok {
		w := host.AsInt64(want)
		for _, id := range ids {
			if id == w {
				return true
			}
		}
		return false
	}
	switch w := want.(type) {
	case string:
		h, ok := have.(string)
		return ok && h == w
	case bool:
		h, ok := have.(bool)
		return ok && h == w
	case nil:
		return isEmpty(have)
	default:
		return host.AsInt64(have) == host.AsInt64(want) && host.AsInt64(want) != 0
	}
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	}
	return false
}

// normalize stores relational values as int64 ids
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []int:
		out := make([]int64, 0, len(x))
		for _, id := range x {
			out = append(out, int64(id))
		}
		return out
	case []int64:
		out := make([]int64, len(x))
		copy(out, x)
		return out
	}
	return v
}

func clone(v host.Values) host.Values {
	out := make(host.Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func keys(v host.Values) []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
