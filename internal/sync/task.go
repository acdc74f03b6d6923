package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

var taskFields = []string{
	"summary", "note", "state", "date_deadline", "user_id", "res_model", "res_id",
}

type taskHandler struct {
	e *SyncEngine
}

// Push creates or updates the remote task of an activity
func (h *taskHandler) Push(ctx context.Context, job *models.SyncJob) (PushOutcome, error) {
	e := h.e
	rec, err := e.host.Read(ctx, host.ModelActivity, job.LocalID, taskFields)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("read activity %d: %w", job.LocalID, err)
	}
	if rec == nil {
		return PushOutcome{Skipped: "activity no longer exists"}, nil
	}

	contactIDs, dealIDs := []string{}, []string{}
	contactID, dealID := e.parentRemoteIDs(ctx, rec.String("res_model"), rec.Int64("res_id"), true)
	if contactID != "" {
		contactIDs = append(contactIDs, contactID)
	}
	if dealID != "" {
		dealIDs = append(dealIDs, dealID)
	}

	existing := e.meta.RemoteID(ctx, ObjectTask, job.LocalID)
	payload := remote.Body{
		"name":        firstNonEmpty(rec.String("summary"), "Task"),
		"description": rec.String("note"),
		"priority":    "medium",
		"completed":   rec.String("state") == "done",
		"contact_ids": contactIDs,
		"deal_ids":    dealIDs,
	}
	if existing != "" {
		payload["taskId"] = existing
	} else {
		payload["tags"] = []string{}
	}
	if due, ok := rec.Time("date_deadline"); ok {
		payload["due_date"] = due.Format(host.DateLayout)
		payload["due_time"] = due.Format(host.DateLayout)
	}

	var update PushUpdate
	userID, _ := rec.Many2one("user_id")
	if assignee, ok := e.mapping.ResolveRemoteUser(ctx, userID); ok {
		payload["assignedTo"] = assignee
		update.RemoteAssigneeID = strPtr(assignee)
	}

	var resp remote.Body
	if existing != "" {
		resp, err = e.remote.UpdateTask(ctx, payload)
	} else {
		resp, err = e.remote.CreateTask(ctx, payload)
	}
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}

	update.RemoteID = firstNonEmpty(remote.ResponseID(resp, "data.id", "id", "taskId"), existing)
	if update.RemoteID == "" {
		return PushOutcome{Payload: payload}, fmt.Errorf("create task for activity %d: %w", job.LocalID, ErrNoRemoteID)
	}
	linked, err := e.meta.MarkPushed(ctx, ObjectTask, job.LocalID, update)
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}
	if linked {
		log.Printf("✅ Sync: activity %d linked to remote task %s", job.LocalID, update.RemoteID)
	}
	return PushOutcome{RemoteID: update.RemoteID, Payload: payload}, nil
}

// Upsert applies a remote task to the linked activity, creating it when unknown
func (h *taskHandler) Upsert(ctx context.Context, item remote.Item) (UpsertOutcome, error) {
	e := h.e
	remoteID := item.String("id", "taskId")
	if remoteID == "" {
		return UpsertSkipped, nil
	}
	pctx := host.WithOrigin(ctx, host.OriginPull)

	vals := host.Values{
		"summary": firstNonEmpty(item.String("name"), "Task"),
		"note":    optional(item.String("description")),
	}
	if due := parseDueDate(item.String("due_date")); due != "" {
		vals["date_deadline"] = due
	}
	if item.Bool("completed") {
		vals["state"] = "done"
	}

	assignee := item.String("assignedTo")
	if userID, ok := e.mapping.ResolveLocalUser(pctx, assignee); ok {
		vals["user_id"] = userID
	}

	if ids := item.Strings("contact_ids"); len(ids) > 0 {
		if partnerID := e.meta.LocalID(pctx, ObjectContact, ids[0]); partnerID != 0 {
			vals["res_model"] = host.ModelPartner
			vals["res_id"] = partnerID
		}
	} else if ids := item.Strings("deal_ids"); len(ids) > 0 {
		if leadID := e.meta.LocalID(pctx, ObjectDeal, ids[0]); leadID != 0 {
			vals["res_model"] = host.ModelLead
			vals["res_id"] = leadID
		}
	}

	var createErr error
	prepare := func(v host.Values) bool {
		if _, ok := v["res_id"]; !ok {
			log.Printf("⏭️ Sync: remote task %s has no linked contact or deal, not creating", remoteID)
			return false
		}
		typeID, err := host.SearchOne(pctx, e.host, host.ModelActivityType, nil)
		if err != nil {
			createErr = fmt.Errorf("look up activity type: %w", err)
			return false
		}
		if typeID == 0 {
			log.Printf("⏭️ Sync: no activity type available, not creating remote task %s", remoteID)
			return false
		}
		v["activity_type_id"] = typeID
		return true
	}

	localID, outcome, err := e.writeOrCreate(ctx, ObjectTask, remoteID, vals, prepare)
	if err == nil {
		err = createErr
	}
	if err != nil || outcome == UpsertSkipped {
		return outcome, err
	}
	return outcome, e.meta.MarkPulled(ctx, ObjectTask, localID, PullUpdate{RemoteID: remoteID, RemoteAssigneeID: assignee})
}

// parseDueDate normalizes a remote due date to the host date layout
func parseDueDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, host.DateTimeLayout, host.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(host.DateLayout)
		}
	}
	if len(s) >= len(host.DateLayout) {
		if t, err := time.Parse(host.DateLayout, s[:len(host.DateLayout)]); err == nil {
			return t.Format(host.DateLayout)
		}
	}
	return ""
}
