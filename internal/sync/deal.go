package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

var dealFields = []string{
	"name", "type", "expected_revenue", "active", "stage_id", "user_id", "partner_id", "description",
}

type dealHandler struct {
	e *SyncEngine
}

// Push creates or updates the remote deal of an opportunity
func (h *dealHandler) Push(ctx context.Context, job *models.SyncJob) (PushOutcome, error) {
	e := h.e
	rec, err := e.host.Read(ctx, host.ModelLead, job.LocalID, dealFields)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("read lead %d: %w", job.LocalID, err)
	}
	if rec == nil {
		return PushOutcome{Skipped: "lead no longer exists"}, nil
	}
	if rec.String("type") != "opportunity" {
		return PushOutcome{Skipped: "lead is not an opportunity"}, nil
	}

	existing := e.meta.RemoteID(ctx, ObjectDeal, job.LocalID)
	payload := remote.Body{
		"name":  rec.String("name"),
		"value": rec.Float("expected_revenue"),
	}
	if existing != "" {
		payload["dealId"] = existing
		payload["status"] = "open"
		if !rec.Bool("active") {
			payload["status"] = "closed"
		}
	} else {
		payload["status"] = "open"
	}

	stageID, _ := rec.Many2one("stage_id")
	pipelineID, remoteStageID, _ := e.mapping.ResolveRemoteStage(ctx, stageID)
	if pipelineID != "" {
		payload["pipelineId"] = pipelineID
	}
	if remoteStageID != "" {
		payload["stageId"] = remoteStageID
	}
	update := PushUpdate{RemotePipelineID: strPtr(pipelineID), RemoteStageID: strPtr(remoteStageID)}

	userID, _ := rec.Many2one("user_id")
	if assignee, ok := e.mapping.ResolveRemoteUser(ctx, userID); ok {
		payload["assignedTo"] = assignee
		update.RemoteAssigneeID = strPtr(assignee)
	}
	partnerID, _ := rec.Many2one("partner_id")
	if contactID := e.meta.RemoteID(ctx, ObjectContact, partnerID); contactID != "" {
		payload["contactId"] = contactID
	}
	if desc := rec.String("description"); desc != "" {
		payload["notes"] = desc
	}

	var resp remote.Body
	if existing != "" {
		resp, err = e.remote.UpdateDeal(ctx, payload)
	} else {
		resp, err = e.remote.AddDeal(ctx, payload)
	}
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}

	update.RemoteID = firstNonEmpty(remote.ResponseID(resp), existing)
	if update.RemoteID == "" {
		return PushOutcome{Payload: payload}, fmt.Errorf("add deal for lead %d: %w", job.LocalID, ErrNoRemoteID)
	}
	linked, err := e.meta.MarkPushed(ctx, ObjectDeal, job.LocalID, update)
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}
	if linked {
		log.Printf("✅ Sync: lead %d linked to remote deal %s", job.LocalID, update.RemoteID)
		e.redriveNotes(ctx, host.ModelLead, job.LocalID)
	}
	return PushOutcome{RemoteID: update.RemoteID, Payload: payload}, nil
}

// Upsert applies a remote deal to the linked opportunity, creating it when unknown
func (h *dealHandler) Upsert(ctx context.Context, item remote.Item) (UpsertOutcome, error) {
	e := h.e
	remoteID := item.String("id")
	if remoteID == "" {
		return UpsertSkipped, nil
	}
	pctx := host.WithOrigin(ctx, host.OriginPull)

	vals := host.Values{
		"name":             firstNonEmpty(item.String("name"), "Deal"),
		"type":             "opportunity",
		"expected_revenue": item.Float("value"),
		"active":           item.String("status") != "closed",
	}
	if partnerID := e.meta.LocalID(pctx, ObjectContact, item.String("contactId")); partnerID != 0 {
		vals["partner_id"] = partnerID
	}

	pipelineID, stageID := item.String("pipelineId"), item.String("stageId")
	if stageID != "" {
		if localStage, ok := e.mapping.ResolveLocalStage(pctx, pipelineID, stageID); ok {
			vals["stage_id"] = localStage
		}
	}

	assignee := item.String("assignedTo")
	if userID, ok := e.mapping.ResolveLocalUser(pctx, assignee); ok {
		vals["user_id"] = userID
	}
	if notes := item.String("notes"); notes != "" {
		vals["description"] = notes
	}

	localID, outcome, err := e.writeOrCreate(ctx, ObjectDeal, remoteID, vals, nil)
	if err != nil || outcome == UpsertSkipped {
		return outcome, err
	}

	update := PullUpdate{RemoteID: remoteID, RemoteAssigneeID: assignee}
	if stageID != "" {
		update.RemotePipelineID = pipelineID
		update.RemoteStageID = stageID
	}
	return outcome, e.meta.MarkPulled(ctx, ObjectDeal, localID, update)
}
