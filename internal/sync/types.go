package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/models"
	"github.com/xelth-com/pcsyncgo/internal/remote"
)

// ObjectType identifies a synchronized CRM entity
type ObjectType string

const (
	ObjectContact ObjectType = "contact"
	ObjectDeal    ObjectType = "deal"
	ObjectTask    ObjectType = "task"
	ObjectNote    ObjectType = "note"
)

// ObjectTypes lists every object type in dependency order
var ObjectTypes = []ObjectType{ObjectContact, ObjectDeal, ObjectTask, ObjectNote}

// LocalModel returns the host model backing the object type
func (o ObjectType) LocalModel() string {
	switch o {
	case ObjectContact:
		return host.ModelPartner
	case ObjectDeal:
		return host.ModelLead
	case ObjectTask:
		return host.ModelActivity
	case ObjectNote:
		return host.ModelMessage
	}
	return ""
}

// ParseObjectType validates an object type name
func ParseObjectType(s string) (ObjectType, error) {
	for _, o := range ObjectTypes {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown object type %q", s)
}

// objectTypeForModel maps a host model back to its object type
func objectTypeForModel(model string) (ObjectType, bool) {
	for _, o := range ObjectTypes {
		if o.LocalModel() == model {
			return o, true
		}
	}
	return "", false
}

// Change events
const (
	EventCreate = "create"
	EventUpdate = "update"
)

var (
	// ErrLeaseHeld means another process currently pulls this object type
	ErrLeaseHeld = errors.New("pull lease held by another worker")
	// ErrLeaseLost means the pull lease expired or was taken over while a pull ran
	ErrLeaseLost = errors.New("pull lease lost")
	// ErrNoRemoteID means a create reply carried no record id, so the push cannot be linked
	ErrNoRemoteID = errors.New("remote reply carried no record id")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("sync job not found")
)

// Remote is the subset of the remote client the engine depends on
type Remote interface {
	UpsertContact(ctx context.Context, contact remote.Body) (remote.Body, error)
	AddDeal(ctx context.Context, deal remote.Body) (remote.Body, error)
	UpdateDeal(ctx context.Context, deal remote.Body) (remote.Body, error)
	CreateTask(ctx context.Context, task remote.Body) (remote.Body, error)
	UpdateTask(ctx context.Context, task remote.Body) (remote.Body, error)
	CreateNote(ctx context.Context, note remote.Body) (remote.Body, error)
	List(ctx context.Context, objectType string, p remote.Page) ([]remote.Item, error)
}

// PushOutcome describes what a push handler did
type PushOutcome struct {
	RemoteID string
	Payload  remote.Body
	// Skipped is non-empty when the handler had nothing to send
	Skipped string
}

// UpsertOutcome describes what an upsert from the remote did
type UpsertOutcome int

const (
	UpsertSkipped UpsertOutcome = iota
	UpsertCreated
	UpsertUpdated
)

// Handler pushes one object type to the remote and applies remote records locally
type Handler interface {
	Push(ctx context.Context, job *models.SyncJob) (PushOutcome, error)
	Upsert(ctx context.Context, item remote.Item) (UpsertOutcome, error)
}

// BatchResult summarizes one ProcessPendingJobs pass
type BatchResult struct {
	Selected  int   `json:"selected"`
	Done      int   `json:"done"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Contended int   `json:"contended"`
	Requeued  int64 `json:"requeued"`
}

// PullResult is the explicit outcome of pulling one object type
type PullResult struct {
	ObjectType ObjectType `json:"objectType"`
	Since      time.Time  `json:"since"`
	Watermark  *time.Time `json:"watermark,omitempty"`
	Pages      int        `json:"pages"`
	Fetched    int        `json:"fetched"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Truncated  bool       `json:"truncated,omitempty"`
	Err        error      `json:"-"`
	Error      string     `json:"error,omitempty"`
}

// OK reports whether the pull completed
func (r PullResult) OK() bool {
	return r.Err == nil
}

func (r *PullResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// SyncResult is the outcome of one incremental sync or reconciliation run
type SyncResult struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Push       BatchResult  `json:"push"`
	Pulls      []PullResult `json:"pulls"`
	Err        error        `json:"-"`
	Error      string       `json:"error,omitempty"`
}

// OK reports whether every step succeeded
func (r SyncResult) OK() bool {
	if r.Err != nil {
		return false
	}
	for _, p := range r.Pulls {
		if !p.OK() {
			return false
		}
	}
	return true
}

func (r *SyncResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Event is published on job and pull state changes
type Event struct {
	Type       string      `json:"type"`
	ObjectType string      `json:"objectType,omitempty"`
	JobID      uint        `json:"jobId,omitempty"`
	Status     string      `json:"status,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	At         time.Time   `json:"at"`
}

// Event types
const (
	EventJobStatus  = "job_status"
	EventPullResult = "pull_result"
	EventSyncResult = "sync_result"
)

// Publisher receives engine events. The websocket hub implements it.
type Publisher interface {
	Publish(e Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
