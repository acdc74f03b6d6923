package odoo

import (
	"context"
	"fmt"

	"github.com/xelth-com/pcsyncgo/internal/host"
)

// PullContextKey is set in the Odoo context of writes made while applying remote
// changes, so server-side automated actions can skip them.
const PullContextKey = "pcsync_origin"

// Store adapts the XML-RPC client to host.Store
type Store struct {
	client *Client
}

// NewStore wraps an Odoo client
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Create implements host.Store
func (s *Store) Create(ctx context.Context, model string, values host.Values) (int64, error) {
	return s.client.Create(ctx, model, encodeValues(values), originContext(ctx))
}

// Write implements host.Store
func (s *Store) Write(ctx context.Context, model string, id int64, values host.Values) error {
	err := s.client.Write(ctx, model, []int64{id}, encodeValues(values), originContext(ctx))
	if IsMissingRecord(err) {
		return fmt.Errorf("%s(%d): %w", model, id, host.ErrNotFound)
	}
	return err
}

// Search implements host.Store
func (s *Store) Search(ctx context.Context, model string, domain host.Domain, limit int) ([]int64, error) {
	return s.client.Search(ctx, model, encodeDomain(domain), limit, 0, nil)
}

// Read implements host.Store. Archived records are returned, deleted ones read as nil.
func (s *Store) Read(ctx context.Context, model string, id int64, fields []string) (host.Record, error) {
	// read raises on deleted ids, so check with search first
	ids, err := s.client.Search(ctx, model, []interface{}{[]interface{}{"id", "=", id}}, 1, 0, withArchived)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.client.Read(ctx, model, ids, fields, withArchived)
	if IsMissingRecord(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return host.Record(rows[0]), nil
}

// withArchived disables Odoo's implicit active = True filter
var withArchived = map[string]interface{}{"active_test": false}

// originContext marks writes made while applying remote changes
func originContext(ctx context.Context) map[string]interface{} {
	if !host.IsPull(ctx) {
		return nil
	}
	return map[string]interface{}{PullContextKey: "pull"}
}

func encodeDomain(domain host.Domain) []interface{} {
	out := make([]interface{}, 0, len(domain))
	for _, c := range domain {
		value := c.Value
		if ids, ok := value.([]int64); ok {
			list := make([]interface{}, len(ids))
			for i, id := range ids {
				list[i] = id
			}
			value = list
		}
		out = append(out, []interface{}{c.Field, c.Op, value})
	}
	return out
}

// encodeValues turns []int64 into the many2many "replace" command (6, 0, ids)
// and nil into false.
func encodeValues(values host.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch x := v.(type) {
		case nil:
			out[k] = false
		case []int64:
			ids := make([]interface{}, len(x))
			for i, id := range x {
				ids[i] = id
			}
			out[k] = []interface{}{[]interface{}{6, 0, ids}}
		default:
			out[k] = v
		}
	}
	return out
}
