// Package host describes the local record store the sync engine reads from and writes to.
package host

import (
	"context"
	"errors"
)

// Odoo model names used by the sync engine
const (
	ModelPartner      = "res.partner"
	ModelLead         = "crm.lead"
	ModelActivity     = "mail.activity"
	ModelMessage      = "mail.message"
	ModelPartnerTag   = "res.partner.category"
	ModelCountry      = "res.country"
	ModelCountryState = "res.country.state"
	ModelStage        = "crm.stage"
	ModelUser         = "res.users"
	ModelActivityType = "mail.activity.type"
)

// ErrNotFound is returned by Write when the target record does not exist
var ErrNotFound = errors.New("host record not found")

// Store is the host record store. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a record and returns its id
	Create(ctx context.Context, model string, values Values) (int64, error)
	// Write updates an existing record
	Write(ctx context.Context, model string, id int64, values Values) error
	// Search returns ids matching every condition in the domain. limit <= 0 means no limit.
	Search(ctx context.Context, model string, domain Domain, limit int) ([]int64, error)
	// Read loads one record. A missing record yields (nil, nil).
	Read(ctx context.Context, model string, id int64, fields []string) (Record, error)
}

// Values is a field map for Create and Write.
// Many2many replacements use []int64 (the set replaces the current one).
type Values map[string]interface{}

// Condition is one domain leaf: field, operator, value.
// Supported operators are "=", "!=", "=ilike" and "in".
type Condition struct {
	Field string
	Op    string
	Value interface{}
}

// Domain is a conjunction of conditions
type Domain []Condition

// Eq builds an equality condition
func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: "=", Value: value}
}

// ILike builds a case-insensitive exact match
func ILike(field string, value string) Condition {
	return Condition{Field: field, Op: "=ilike", Value: value}
}

// SearchOne returns the first match or 0
func SearchOne(ctx context.Context, s Store, model string, domain Domain) (int64, error) {
	ids, err := s.Search(ctx, model, domain, 1)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}
