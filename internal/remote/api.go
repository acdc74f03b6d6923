package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Item is one record returned by a list endpoint
type Item map[string]interface{}

// String returns the first non-empty value among keys, ids included
func (it Item) String(keys ...string) string {
	for _, k := range keys {
		if s := stringify(it[k]); s != "" {
			return s
		}
	}
	return ""
}

// Float returns a numeric value; numeric strings are parsed
func (it Item) Float(key string) float64 {
	switch v := it[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Bool returns a boolean value
func (it Item) Bool(key string) bool {
	b, _ := it[key].(bool)
	return b
}

// Strings returns a list of scalar values as strings
func (it Item) Strings(key string) []string {
	list, ok := it[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := stringify(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Object returns a nested object
func (it Item) Object(key string) Item {
	if m, ok := it[key].(map[string]interface{}); ok {
		return Item(m)
	}
	return nil
}

// Page describes one list request
type Page struct {
	UpdatedAfter time.Time
	Limit        int
	Page         int
}

// listSpec maps an object type to its list endpoint and fallback key
var listSpec = map[string]struct{ path, key string }{
	"contact": {"/contacts/list", "contacts"},
	"deal":    {"/deals/list", "deals"},
	"task":    {"/tasks/list", "tasks"},
	"note":    {"/notes/list", "notes"},
}

// List fetches one page of records of objectType updated after the watermark
func (c *Client) List(ctx context.Context, objectType string, p Page) ([]Item, error) {
	spec, ok := listSpec[objectType]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", objectType)
	}

	query := url.Values{}
	query.Set("updatedAfter", p.UpdatedAfter.UTC().Format(time.RFC3339))
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Page > 0 {
		query.Set("page", strconv.Itoa(p.Page))
	}

	body, err := c.get(ctx, spec.path, query)
	if err != nil {
		return nil, err
	}
	return items(body, "data", spec.key)
}

// UpsertContact creates or updates a contact. The payload is wrapped in {"data": ...}.
func (c *Client) UpsertContact(ctx context.Context, contact Body) (Body, error) {
	return c.post(ctx, "/contact/addOrUpdateContact", Body{"data": contact})
}

// AddDeal creates a deal
func (c *Client) AddDeal(ctx context.Context, deal Body) (Body, error) {
	return c.post(ctx, "/deal/addDeal", deal)
}

// UpdateDeal updates the deal identified by deal["dealId"]
func (c *Client) UpdateDeal(ctx context.Context, deal Body) (Body, error) {
	return c.post(ctx, "/deal/updateDeal", deal)
}

// CreateTask creates a task
func (c *Client) CreateTask(ctx context.Context, task Body) (Body, error) {
	return c.post(ctx, "/task/createTask", task)
}

// UpdateTask updates the task identified by task["taskId"]
func (c *Client) UpdateTask(ctx context.Context, task Body) (Body, error) {
	return c.post(ctx, "/task/updateTask", task)
}

// CreateNote creates a note. Notes are never updated.
func (c *Client) CreateNote(ctx context.Context, note Body) (Body, error) {
	return c.post(ctx, "/note/createNote", note)
}

// Stage is a pipeline stage
type Stage struct {
	ID   string
	Name string
}

// Pipeline is a deal pipeline with its stages
type Pipeline struct {
	ID     string
	Name   string
	Stages []Stage
}

// ListPipelines returns every pipeline and its stages
func (c *Client) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	body, err := c.post(ctx, "/deal/pipelines", Body{})
	if err != nil {
		return nil, err
	}
	raw, err := items(body, "data", "pipelines")
	if err != nil {
		return nil, err
	}

	out := make([]Pipeline, 0, len(raw))
	for _, p := range raw {
		pl := Pipeline{ID: p.String("id", "_id"), Name: p.String("name")}
		if list, ok := p["stages"].([]interface{}); ok {
			for _, s := range list {
				m, ok := s.(map[string]interface{})
				if !ok {
					continue
				}
				st := Item(m)
				id := st.String("id", "_id")
				if id == "" {
					continue
				}
				name := st.String("name")
				if name == "" {
					name = id
				}
				pl.Stages = append(pl.Stages, Stage{ID: id, Name: name})
			}
		}
		out = append(out, pl)
	}
	return out, nil
}

// User is a remote CRM user
type User struct {
	ID   string
	Name string
}

// ListUsers returns the remote users. The endpoint is optional on the remote side:
// a 404 yields ErrNotFound.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	body, err := c.get(ctx, "/user/getUserList", nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, err := items(body, "users", "data")
	if err != nil {
		return nil, err
	}

	out := make([]User, 0, len(raw))
	for _, u := range raw {
		id := u.String("_id", "id")
		if id == "" {
			continue
		}
		name := strings.TrimSpace(u.String("first_name") + " " + u.String("last_name"))
		if name == "" {
			name = u.String("name", "email")
		}
		if name == "" {
			name = id
		}
		out = append(out, User{ID: id, Name: name})
	}
	return out, nil
}

// TestConnection posts a throwaway contact upsert and expects 200 or 201
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.post(ctx, "/contact/upsert", Body{
		"email":       "odoo_test_connection@example.com",
		"first_name":  "Odoo",
		"last_name":   "Connection Test",
		"forceCreate": false,
	})
	return err
}

// items reads a list from the first key holding a non-empty array
func items(body Body, keys ...string) ([]Item, error) {
	for _, key := range keys {
		raw, present := body[key]
		if !present || raw == nil {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			if key == "data" {
				// data may wrap the typed list: {"data": {"contacts": [...]}}
				if m, ok := raw.(map[string]interface{}); ok {
					if nested, err := items(Body(m), keys[1:]...); err == nil && len(nested) > 0 {
						return nested, nil
					}
				}
			}
			continue
		}
		if len(list) == 0 {
			continue
		}
		out := make([]Item, 0, len(list))
		for i, v := range list {
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("list item %d under %q is not an object", i, key)
			}
			out = append(out, Item(m))
		}
		return out, nil
	}
	return []Item{}, nil
}
