package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/xelth-com/pcsyncgo/internal/host"
)

// writeOrCreate applies vals to the host record linked to remoteID, or creates one.
// prepareCreate may add create-only values; returning false skips the create.
// Every host write carries the pull-origin marker.
func (e *SyncEngine) writeOrCreate(ctx context.Context, t ObjectType, remoteID string, vals host.Values, prepareCreate func(host.Values) bool) (int64, UpsertOutcome, error) {
	ctx = host.WithOrigin(ctx, host.OriginPull)
	model := t.LocalModel()

	row, err := e.meta.FindByRemoteID(ctx, t, remoteID)
	if err != nil {
		return 0, UpsertSkipped, err
	}
	if row != nil {
		err := e.host.Write(ctx, model, row.EntityID, vals)
		if err == nil {
			return row.EntityID, UpsertUpdated, nil
		}
		if !errors.Is(err, host.ErrNotFound) {
			return 0, UpsertSkipped, fmt.Errorf("write %s(%d): %w", model, row.EntityID, err)
		}
		log.Printf("⚠️ Sync: %s(%d) linked to remote %s no longer exists, recreating", model, row.EntityID, remoteID)
		if err := e.meta.Unlink(ctx, row); err != nil {
			return 0, UpsertSkipped, fmt.Errorf("unlink %s:%d: %w", t, row.EntityID, err)
		}
	}

	if prepareCreate != nil && !prepareCreate(vals) {
		return 0, UpsertSkipped, nil
	}
	id, err := e.host.Create(ctx, model, vals)
	if err != nil {
		return 0, UpsertSkipped, fmt.Errorf("create %s: %w", model, err)
	}
	return id, UpsertCreated, nil
}

// parentRemoteIDs resolves the remote contact and deal ids of a host parent record.
// A deal parent also yields the deal's contact when withDealContact is set.
func (e *SyncEngine) parentRemoteIDs(ctx context.Context, model string, id int64, withDealContact bool) (contactID, dealID string) {
	if id == 0 {
		return "", ""
	}
	switch model {
	case host.ModelPartner:
		contactID = e.meta.RemoteID(ctx, ObjectContact, id)
	case host.ModelLead:
		dealID = e.meta.RemoteID(ctx, ObjectDeal, id)
		if withDealContact {
			lead, err := e.host.Read(ctx, host.ModelLead, id, []string{"partner_id"})
			if err != nil {
				log.Printf("⚠️ Sync: read %s(%d): %v", host.ModelLead, id, err)
				return contactID, dealID
			}
			if lead != nil {
				partnerID, _ := lead.Many2one("partner_id")
				contactID = e.meta.RemoteID(ctx, ObjectContact, partnerID)
			}
		}
	}
	return contactID, dealID
}

// relatedName reads the name of a many2one target, "" when unset or missing
func (e *SyncEngine) relatedName(ctx context.Context, model string, id int64) string {
	if id == 0 {
		return ""
	}
	rec, err := e.host.Read(ctx, model, id, []string{"name"})
	if err != nil || rec == nil {
		return ""
	}
	return rec.String("name")
}

// splitName splits a display name on the first space
func splitName(name string) (first, last string) {
	first, last, _ = strings.Cut(name, " ")
	return first, last
}

// optional maps empty strings to nil, which host stores clear
func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func strPtr(s string) *string {
	return &s
}
