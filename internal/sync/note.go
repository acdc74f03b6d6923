package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

var noteFields = []string{"body", "model", "res_id", "message_type", "create_uid"}

type noteHandler struct {
	e *SyncEngine
}

// Push creates the remote note of an eligible chatter message. Notes are never updated remotely.
func (h *noteHandler) Push(ctx context.Context, job *models.SyncJob) (PushOutcome, error) {
	e := h.e
	meta, err := e.meta.Get(ctx, ObjectNote, job.LocalID)
	if err != nil {
		return PushOutcome{}, err
	}
	if meta == nil || meta.SyncEnabled == nil || !*meta.SyncEnabled {
		return PushOutcome{Skipped: "note is not enabled for sync"}, nil
	}
	if meta.HasRemoteID() {
		return PushOutcome{RemoteID: *meta.RemoteID, Skipped: "note already exists remotely"}, nil
	}

	rec, err := e.host.Read(ctx, host.ModelMessage, job.LocalID, noteFields)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("read message %d: %w", job.LocalID, err)
	}
	if rec == nil {
		return PushOutcome{Skipped: "message no longer exists"}, nil
	}

	contactID, dealID := e.parentRemoteIDs(ctx, rec.String("model"), rec.Int64("res_id"), false)
	if contactID == "" && dealID == "" {
		log.Printf("⚠️ Sync: note %d has no linked remote contact or deal yet", job.LocalID)
		return PushOutcome{Skipped: "no linked remote contact or deal"}, nil
	}

	payload := remote.Body{"body": rec.String("body")}
	authorID, _ := rec.Many2one("create_uid")
	if userID, ok := e.mapping.ResolveRemoteUser(ctx, authorID); ok {
		payload["userId"] = userID
	}
	if contactID != "" {
		payload["contactId"] = contactID
	}
	if dealID != "" {
		payload["dealId"] = dealID
	}

	resp, err := e.remote.CreateNote(ctx, payload)
	if err != nil {
		return PushOutcome{Payload: payload}, err
	}

	remoteID := remote.ResponseID(resp)
	if remoteID == "" {
		return PushOutcome{Payload: payload}, fmt.Errorf("create note for message %d: %w", job.LocalID, ErrNoRemoteID)
	}
	if _, err := e.meta.MarkPushed(ctx, ObjectNote, job.LocalID, PushUpdate{RemoteID: remoteID}); err != nil {
		return PushOutcome{Payload: payload}, err
	}
	return PushOutcome{RemoteID: remoteID, Payload: payload}, nil
}

// Upsert imports a remote note as a chatter comment. Existing notes are left alone.
func (h *noteHandler) Upsert(ctx context.Context, item remote.Item) (UpsertOutcome, error) {
	e := h.e
	remoteID := item.String("id")
	if remoteID == "" {
		return UpsertSkipped, nil
	}
	pctx := host.WithOrigin(ctx, host.OriginPull)

	if e.meta.LocalID(pctx, ObjectNote, remoteID) != 0 {
		return UpsertSkipped, nil
	}

	var parentModel string
	var parentID int64
	if id := e.meta.LocalID(pctx, ObjectContact, item.String("contactId")); id != 0 {
		parentModel, parentID = host.ModelPartner, id
	} else if id := e.meta.LocalID(pctx, ObjectDeal, item.String("dealId")); id != 0 {
		parentModel, parentID = host.ModelLead, id
	}
	if parentID == 0 {
		log.Printf("⚠️ Sync: remote note %s has no linked contact or deal, skipping", remoteID)
		return UpsertSkipped, nil
	}

	localID, err := e.host.Create(pctx, host.ModelMessage, host.Values{
		"body":         item.String("body"),
		"message_type": "comment",
		"model":        parentModel,
		"res_id":       parentID,
	})
	if err != nil {
		return UpsertSkipped, fmt.Errorf("create message: %w", err)
	}

	disabled := false
	err = e.meta.MarkPulled(ctx, ObjectNote, localID, PullUpdate{RemoteID: remoteID, SyncEnabled: &disabled})
	return UpsertCreated, err
}
