// internal/eventhub/hub.go
package eventhub

import (
	"context"
	"time"
)

// Broadcaster delivers events to connected UI clients
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the central event dispatcher for the history subsystem
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New creates a new EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster sets the websocket broadcaster
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

// emit sends an event through the broadcaster if one is attached
func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// Emit sends an arbitrary event
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// HistoryChangedEvent fires after an action is appended to a project's log
type HistoryChangedEvent struct {
	ProjectID   string `json:"projectId"`
	ActionID    string `json:"actionId"`
	ActionType  string `json:"actionType"`
	HistorySize int    `json:"historySize"`
}

func (h *EventHub) EmitHistoryChanged(event HistoryChangedEvent) {
	h.emit("history:changed", event)
}

// UnsavedChangesEvent carries the rolling unsaved-changes status for
// UI indicators
type UnsavedChangesEvent struct {
	ProjectID      string    `json:"projectId"`
	HasUnsaved     bool      `json:"hasUnsaved"`
	UnsavedCount   int       `json:"unsavedCount"`
	LastChangeTime time.Time `json:"lastChangeTime,omitempty"`
	Critical       bool      `json:"critical"`
}

func (h *EventHub) EmitUnsavedChanges(event UnsavedChangesEvent) {
	h.emit("changes:unsaved", event)
}

// RecoveryNeededEvent fires when a recent recovery blob is found on
// project activation; the UI presents restore/discard/continue
type RecoveryNeededEvent struct {
	ProjectID       string    `json:"projectId"`
	SavedAt         time.Time `json:"savedAt"`
	ActionCount     int       `json:"actionCount"`
	CheckpointCount int       `json:"checkpointCount"`
}

func (h *EventHub) EmitRecoveryNeeded(event RecoveryNeededEvent) {
	h.emit("recovery:needed", event)
}

// CheckpointCreatedEvent fires after a checkpoint is persisted
type CheckpointCreatedEvent struct {
	ProjectID    string `json:"projectId"`
	CheckpointID string `json:"checkpointId"`
	Description  string `json:"description"`
	IsAutoSave   bool   `json:"isAutoSave"`
}

func (h *EventHub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.emit("checkpoint:created", event)
}

// ProjectSwitchedEvent fires on active-project handoff
type ProjectSwitchedEvent struct {
	PreviousID string `json:"previousId,omitempty"`
	ProjectID  string `json:"projectId"`
}

func (h *EventHub) EmitProjectSwitched(event ProjectSwitchedEvent) {
	h.emit("project:switched", event)
}

// StorageConflictEvent fires when the backing store is modified by
// another process, e.g. a second instance editing the same project
type StorageConflictEvent struct {
	Path       string    `json:"path"`
	DetectedAt time.Time `json:"detectedAt"`
}

func (h *EventHub) EmitStorageConflict(event StorageConflictEvent) {
	h.emit("storage:conflict", event)
}
