package sync

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

var contactFields = []string{
	"name", "email", "phone", "mobile", "street", "zip", "city",
	"state_id", "country_id", "category_id", "user_id",
}

type contactHandler struct {
	e *SyncEngine
}

// Push upserts a partner as a remote contact
func (h *contactHandler) Push(ctx context.Context, job *models.SyncJob) (PushOutcome, error) {
	e := h.e
	rec, err := e.host.Read(ctx, host.ModelPartner, job.LocalID, contactFields)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("read partner %d: %w", job.LocalID, err)
	}
	if rec == nil {
		return PushOutcome{Skipped: "partner no longer exists"}, nil
	}
	meta, err := e.meta.Get(ctx, ObjectContact, job.LocalID)
	if err != nil {
		return PushOutcome{}, err
	}

	name := rec.String("name")
	first, last := splitName(name)

	tags := []string{}
	for _, id := range rec.IDs("category_id") {
		if tag := e.relatedName(ctx, host.ModelPartnerTag, id); tag != "" {
			tags = append(tags, tag)
		}
	}

	country := remote.Body{"country_code": "", "name": ""}
	if countryID, _ := rec.Many2one("country_id"); countryID != 0 {
		c, err := e.host.Read(ctx, host.ModelCountry, countryID, []string{"code", "name"})
		if err != nil {
			return PushOutcome{}, fmt.Errorf("read country %d: %w", countryID, err)
		}
		if c != nil {
			country["country_code"] = c.String("code")
			country["name"] = c.String("name")
		}
	}
	stateID, _ := rec.Many2one("state_id")

	source := ""
	if meta != nil {
		source = meta.LeadSource
	}

	payload := remote.Body{
		"email":       rec.String("email"),
		"phone":       firstNonEmpty(rec.String("phone"), rec.String("mobile")),
		"first_name":  first,
		"last_name":   last,
		"name":        name,
		"tags":        tags,
		"address1":    rec.String("street"),
		"postal_code": rec.String("zip"),
		"city":        rec.String("city"),
		"state":       e.relatedName(ctx, host.ModelCountryState, stateID),
		"country":     country,
		"source":      source,
		"forceCreate": true,
	}

	var update PushUpdate
	userID, _ := rec.Many2one("user_id")
	if assignee, ok := e.mapping.ResolveRemoteUser(ctx, userID); ok {
		payload["assignedTo"] = assignee
		update.RemoteAssigneeID = strPtr(assignee)
	}

	resp, err := e.remote.UpsertContact(ctx, payload)
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}

	update.RemoteID = firstNonEmpty(remote.ResponseID(resp), e.meta.RemoteID(ctx, ObjectContact, job.LocalID))
	if update.RemoteID == "" {
		return PushOutcome{Payload: payload}, fmt.Errorf("upsert contact for partner %d: %w", job.LocalID, ErrNoRemoteID)
	}
	linked, err := e.meta.MarkPushed(ctx, ObjectContact, job.LocalID, update)
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}
	if linked {
		log.Printf("✅ Sync: partner %d linked to remote contact %s", job.LocalID, update.RemoteID)
		e.redriveNotes(ctx, host.ModelPartner, job.LocalID)
	}
	return PushOutcome{RemoteID: update.RemoteID, Payload: payload}, nil
}

// Upsert applies a remote contact to the linked partner, creating it when unknown
func (h *contactHandler) Upsert(ctx context.Context, item remote.Item) (UpsertOutcome, error) {
	e := h.e
	remoteID := item.String("id")
	if remoteID == "" {
		return UpsertSkipped, nil
	}
	pctx := host.WithOrigin(ctx, host.OriginPull)

	name := item.String("name")
	if name == "" {
		name = strings.TrimSpace(item.String("firstName", "first_name") + " " + item.String("lastName", "last_name"))
	}
	vals := host.Values{
		"name":   name,
		"email":  optional(item.String("email")),
		"phone":  optional(item.String("phone")),
		"street": optional(item.String("address1")),
		"city":   optional(item.String("city")),
		"zip":    optional(item.String("postalCode", "postal_code")),
	}

	var countryID int64
	if code := item.Object("country").String("country_code"); code != "" {
		id, err := host.SearchOne(pctx, e.host, host.ModelCountry, host.Domain{host.Eq("code", code)})
		if err != nil {
			return UpsertSkipped, fmt.Errorf("look up country %s: %w", code, err)
		}
		if id != 0 {
			countryID = id
			vals["country_id"] = id
		}
	}
	if stateName := item.String("state"); stateName != "" && countryID != 0 {
		id, err := host.SearchOne(pctx, e.host, host.ModelCountryState, host.Domain{
			host.ILike("name", stateName),
			host.Eq("country_id", countryID),
		})
		if err != nil {
			return UpsertSkipped, fmt.Errorf("look up state %s: %w", stateName, err)
		}
		if id != 0 {
			vals["state_id"] = id
		}
	}

	assignee := item.String("assignedTo")
	if userID, ok := e.mapping.ResolveLocalUser(pctx, assignee); ok {
		vals["user_id"] = userID
	}

	if tags := item.Strings("tags"); len(tags) > 0 {
		ids := make([]int64, 0, len(tags))
		for _, tag := range tags {
			id, err := host.SearchOne(pctx, e.host, host.ModelPartnerTag, host.Domain{host.Eq("name", tag)})
			if err != nil {
				return UpsertSkipped, fmt.Errorf("look up tag %s: %w", tag, err)
			}
			if id == 0 {
				if id, err = e.host.Create(pctx, host.ModelPartnerTag, host.Values{"name": tag}); err != nil {
					return UpsertSkipped, fmt.Errorf("create tag %s: %w", tag, err)
				}
			}
			ids = append(ids, id)
		}
		vals["category_id"] = ids
	}

	localID, outcome, err := e.writeOrCreate(ctx, ObjectContact, remoteID, vals, nil)
	if err != nil || outcome == UpsertSkipped {
		return outcome, err
	}

	err = e.meta.MarkPulled(ctx, ObjectContact, localID, PullUpdate{
		RemoteID:         remoteID,
		RemoteAssigneeID: assignee,
		LeadSource:       item.String("source"),
	})
	return outcome, err
}
