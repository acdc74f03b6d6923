package host

import (
	"fmt"
	"strconv"
	"time"
)

// Odoo datetime layouts
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Record is one host record as returned by Read. Values follow Odoo conventions:
// empty fields come back as false and many2one fields as [id, display_name].
type Record map[string]interface{}

// ID returns the record id
func (r Record) ID() int64 {
	return r.Int64("id")
}

// String returns a text field, treating false and nil as empty
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil, bool:
		return ""
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(r[field])
}

// Bool returns a boolean field
func (r Record) Bool(field string) bool {
	v, _ := r[field].(bool)
	return v
}

// Float returns a numeric field as float64
func (r Record) Float(field string) float64 {
	switch v := r[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Int64 returns an integer field. A many2one value yields its id.
func (r Record) Int64(field string) int64 {
	return AsInt64(r[field])
}

// Many2one returns the id and display name of a relational field
func (r Record) Many2one(field string) (int64, string) {
	switch v := r[field].(type) {
	case []interface{}:
		if len(v) == 0 {
			return 0, ""
		}
		name := ""
		if len(v) > 1 {
			name, _ = v[1].(string)
		}
		return AsInt64(v[0]), name
	default:
		return AsInt64(v), ""
	}
}

// IDs returns the ids of a x2many field
func (r Record) IDs(field string) []int64 {
	switch v := r[field].(type) {
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out
	case []int:
		out := make([]int64, 0, len(v))
		for _, id := range v {
			out = append(out, int64(id))
		}
		return out
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			if id := AsInt64(item); id != 0 {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

// Time parses a date or datetime field. The bool is false when the field is empty.
func (r Record) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		for _, layout := range []string{DateTimeLayout, DateLayout, time.RFC3339} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// AsInt64 converts an id-like value (number, numeric string or many2one pair) to int64
func AsInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case []interface{}:
		if len(n) > 0 {
			return AsInt64(n[0])
		}
	case string:
		id, _ := strconv.ParseInt(n, 10, 64)
		return id
	}
	return 0
}
