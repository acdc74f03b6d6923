package odoo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

// Client represents an Odoo XML-RPC client
type Client struct {
	URL        string
	Database   string
	Username   string
	Password   string
	CommonURL  string
	ObjectURL  string
	HttpClient *http.Client

	mu  sync.Mutex
	uid int
}

// NewClient creates a new Odoo client
func NewClient(url, db, username, password string) *Client {
	return &Client{
		URL:        url,
		Database:   db,
		Username:   username,
		Password:   password,
		CommonURL:  fmt.Sprintf("%s/xmlrpc/2/common", url),
		ObjectURL:  fmt.Sprintf("%s/xmlrpc/2/object", url),
		HttpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Authenticate authenticates with Odoo and returns the user ID
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	client, err := xmlrpc.NewClient(c.CommonURL, c.HttpClient.Transport)
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{c.Database, c.Username, c.Password, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}
	if uid == 0 {
		return 0, fmt.Errorf("authentication failed: invalid credentials for %s", c.Username)
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return uid, nil
}

// ensureUID authenticates lazily on first use
func (c *Client) ensureUID(ctx context.Context) (int, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}
	return c.Authenticate(ctx)
}

// ExecuteKw runs a model method through execute_kw and decodes the reply into result
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, result interface{}) error {
	uid, err := c.ensureUID(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := xmlrpc.NewClient(c.ObjectURL, c.HttpClient.Transport)
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	params := []interface{}{
		c.Database,
		uid,
		c.Password,
		model,
		method,
		args,
	}
	if kwargs != nil {
		params = append(params, kwargs)
	}

	if err := client.Call("execute_kw", params, result); err != nil {
		return fmt.Errorf("failed to execute %s.%s: %w", model, method, err)
	}
	return nil
}

// Search performs a generic search operation and returns IDs.
// odooCtx is passed as the Odoo context when set.
func (c *Client) Search(ctx context.Context, model string, domain []interface{}, limit, offset int, odooCtx map[string]interface{}) ([]int64, error) {
	kwargs := map[string]interface{}{"offset": offset}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if odooCtx != nil {
		kwargs["context"] = odooCtx
	}

	var ids []int64
	if err := c.ExecuteKw(ctx, model, "search", []interface{}{domain}, kwargs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Read reads records by IDs
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string, odooCtx map[string]interface{}) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	if odooCtx != nil {
		kwargs["context"] = odooCtx
	}

	var rawResult []map[string]interface{}
	if err := c.ExecuteKw(ctx, model, "read", []interface{}{ids}, kwargs, &rawResult); err != nil {
		return nil, err
	}
	return rawResult, nil
}

// Create creates a new record
func (c *Client) Create(ctx context.Context, model string, values map[string]interface{}, odooCtx map[string]interface{}) (int64, error) {
	var id int64
	if err := c.ExecuteKw(ctx, model, "create", []interface{}{values}, contextKwargs(odooCtx), &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Write updates existing record(s). Odoo raises MissingError for deleted ids.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}, odooCtx map[string]interface{}) error {
	var success bool
	if err := c.ExecuteKw(ctx, model, "write", []interface{}{ids, values}, contextKwargs(odooCtx), &success); err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("write operation on %s returned false", model)
	}
	return nil
}

func contextKwargs(odooCtx map[string]interface{}) map[string]interface{} {
	if odooCtx == nil {
		return nil
	}
	return map[string]interface{}{"context": odooCtx}
}

// IsMissingRecord reports whether err is Odoo's MissingError fault.
// xmlrpc faults reach callers as rpc.ServerError text, so the fault string is matched.
func IsMissingRecord(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "MissingError") || strings.Contains(msg, "does not exist or has been deleted")
}
