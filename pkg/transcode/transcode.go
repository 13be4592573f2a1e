// Package transcode models transcode orders and their per-file tasks.
//
// An order groups the tasks submitted together by one user action. Each
// task snapshots everything the external worker needs (content id, source
// path, parameters) at creation time, so later renames or moves of the
// source file don't affect jobs already in flight.
package transcode

import (
	"time"

	"github.com/clipvault/clipvault/internal/flake"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// OrderID identifies a transcode order.
type OrderID int64

// TaskID identifies a single transcode task. Worker callbacks are keyed
// by this id.
type TaskID int64

// TaskStatus is the lifecycle state of one task.
type TaskStatus int

const (
	TaskProcessing TaskStatus = iota
	TaskOk
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskProcessing:
		return "processing"
	case TaskOk:
		return "ok"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s != TaskProcessing
}

// OrderStatus is the aggregate state of an order.
type OrderStatus int

const (
	OrderProcessing OrderStatus = iota
	OrderOk
	OrderFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderProcessing:
		return "processing"
	case OrderOk:
		return "ok"
	case OrderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Params describes how a task's source should be transcoded. OutputName
// becomes the suffix of the materialized file ("<stem>_<OutputName>.<ext>"),
// so two parameter sets for the same source produce distinct files.
type Params struct {
	// Kind selects the worker pipeline, e.g. "av1".
	Kind string `json:"kind"`

	// OutputName suffixes the produced file name. Defaults to Kind.
	OutputName string `json:"output_name"`

	// Options are passed to the worker verbatim.
	Options map[string]string `json:"options,omitempty"`
}

// Suffix returns the file name suffix for this parameter set.
func (p Params) Suffix() string {
	if p.OutputName != "" {
		return p.OutputName
	}
	return p.Kind
}

// Task is one file/parameter pair inside an order.
type Task struct {
	ID           TaskID
	OrderID      OrderID
	SourceFileID vfs.NodeID
	ContentID    vfs.BlobID
	SourcePath   string
	Params       Params
	Status       TaskStatus
	Reason       string
}

// Finish moves the task to a terminal status. Returns false without
// changing anything when the task is already terminal, which makes
// duplicate worker callbacks a no-op.
func (t *Task) Finish(status TaskStatus, reason string) bool {
	if t.Status.Terminal() {
		return false
	}
	t.Status = status
	t.Reason = reason
	return true
}

// TaskSpec is the caller's input for one task of a new order.
type TaskSpec struct {
	SourceFileID vfs.NodeID
	ContentID    vfs.BlobID
	SourcePath   string
	Params       Params
}

// Order groups the tasks created by one submission.
type Order struct {
	ID        OrderID
	Owner     vfs.OwnerID
	Status    OrderStatus
	CreatedAt time.Time
	Tasks     []Task
}

var ids = flake.New()

// NewOrder builds a Processing order with one Processing task per spec.
// Ids are minted in memory; nothing is persisted here.
func NewOrder(owner vfs.OwnerID, specs []TaskSpec) *Order {
	order := &Order{
		ID:        OrderID(ids.NextID()),
		Owner:     owner,
		Status:    OrderProcessing,
		CreatedAt: time.Now(),
	}
	for _, spec := range specs {
		order.Tasks = append(order.Tasks, Task{
			ID:           TaskID(ids.NextID()),
			OrderID:      order.ID,
			SourceFileID: spec.SourceFileID,
			ContentID:    spec.ContentID,
			SourcePath:   spec.SourcePath,
			Params:       spec.Params,
			Status:       TaskProcessing,
		})
	}
	return order
}

// Task returns a pointer to the task with the given id, or nil.
func (o *Order) Task(id TaskID) *Task {
	for i := range o.Tasks {
		if o.Tasks[i].ID == id {
			return &o.Tasks[i]
		}
	}
	return nil
}

// Recompute derives the aggregate status from the tasks: the order stays
// Processing until every task is terminal, then becomes Ok when at least
// one task succeeded and Failed otherwise. Recompute is idempotent, so
// callers run it after every task transition.
func (o *Order) Recompute() OrderStatus {
	anyOk := false
	for i := range o.Tasks {
		if !o.Tasks[i].Status.Terminal() {
			o.Status = OrderProcessing
			return o.Status
		}
		if o.Tasks[i].Status == TaskOk {
			anyOk = true
		}
	}
	if anyOk {
		o.Status = OrderOk
	} else {
		o.Status = OrderFailed
	}
	return o.Status
}
