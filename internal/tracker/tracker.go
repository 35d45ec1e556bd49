// internal/tracker/tracker.go
package tracker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelhist/internal/timeline"
)

// ChangeType classifies a detected change
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
	ChangeUpdate ChangeType = "update"
	ChangeMove   ChangeType = "move"
	ChangeBatch  ChangeType = "batch"
)

// TargetType identifies what a change touched
type TargetType string

const (
	TargetLayer    TargetType = "layer"
	TargetClip     TargetType = "clip"
	TargetMarker   TargetType = "marker"
	TargetTimeline TargetType = "timeline"
	TargetMultiple TargetType = "multiple"
)

// Event is one recorded delta between two observed states. The rolling
// log is used for unsaved-change accounting and diagnostics only,
// never for replay.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        ChangeType             `json:"type"`
	Target      TargetType             `json:"target"`
	TargetIDs   []string               `json:"target_ids,omitempty"`
	Description string                 `json:"description"`
	BeforeState json.RawMessage        `json:"before_state,omitempty"`
	AfterState  json.RawMessage        `json:"after_state,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the rolling unsaved-changes report
type Summary struct {
	TotalChanges       int                `json:"total_changes"`
	UnsavedChanges     int                `json:"unsaved_changes"`
	LastChangeTime     time.Time          `json:"last_change_time,omitempty"`
	ChangeTypes        map[ChangeType]int `json:"change_types"`
	AffectedTargets    []string           `json:"affected_targets"`
	HasCriticalChanges bool               `json:"has_critical_changes"`
}

// Config holds change tracker configuration
type Config struct {
	PollInterval  time.Duration `json:"poll_interval"`
	MaxEvents     int           `json:"max_events"`
	UnsavedWindow time.Duration `json:"unsaved_window"`
}

// DefaultConfig returns default change tracker configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		MaxEvents:     200,
		UnsavedWindow: 5 * time.Minute,
	}
}

// SnapshotSource supplies the current timeline state of the tracked
// project; it returns nil when the project is not available
type SnapshotSource func() *timeline.Snapshot

// Tracker watches one project's timeline state for changes. Mutating
// calls notify it synchronously; a poll ticker remains as a coalescing
// backstop for states mutated outside the notification path.
type Tracker struct {
	mu        sync.Mutex
	config    Config
	source    SnapshotSource
	projectID string
	events    []Event
	last      *timeline.Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a change tracker reading state from the given source
func New(config Config, source SnapshotSource) *Tracker {
	return &Tracker{
		config: config,
		source: source,
	}
}

// StartTracking begins watching the given project id, replacing any
// previous tracking session. The current state becomes the baseline.
func (t *Tracker) StartTracking(projectID string) {
	t.StopTracking()

	t.mu.Lock()
	t.projectID = projectID
	t.last = t.source()
	stop := make(chan struct{})
	t.stop = stop
	interval := t.config.PollInterval
	t.mu.Unlock()

	if interval <= 0 {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Poll()
			case <-stop:
				return
			}
		}
	}()
}

// StopTracking cancels the poll ticker. It leaves no dangling timer
// behind and is safe to call when tracking is not active.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.projectID = ""
	t.mu.Unlock()

	t.wg.Wait()
}

// TrackedProjectID returns the project currently being tracked, or ""
func (t *Tracker) TrackedProjectID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.projectID
}

// NotifyChange runs a diff cycle immediately. Called synchronously by
// the mutation path so detection has no polling latency.
func (t *Tracker) NotifyChange(projectID string) {
	t.mu.Lock()
	tracked := t.projectID
	t.mu.Unlock()

	if tracked == "" || tracked != projectID {
		return
	}
	t.Poll()
}

// Poll diffs the current state against the last observed snapshot and
// records change events. More than one detected change in a cycle is
// coalesced into a single batch event.
func (t *Tracker) Poll() {
	current := t.source()
	if current == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.last
	t.last = current

	if prev == nil {
		return
	}
	// Revision fast path: unchanged states are skipped without a deep diff
	if prev.Revision == current.Revision && deepEqual(prev, current) {
		return
	}

	changes := diffSnapshots(prev, current)
	if len(changes) == 0 {
		return
	}

	if len(changes) == 1 {
		t.appendLocked(changes[0])
		return
	}

	// Coalesce a multi-change cycle into one batch event
	var ids []string
	for _, c := range changes {
		ids = append(ids, c.TargetIDs...)
	}
	t.appendLocked(Event{
		Type:        ChangeBatch,
		Target:      TargetMultiple,
		TargetIDs:   ids,
		Description: "multiple changes detected",
		Metadata:    map[string]interface{}{"change_count": len(changes)},
	})
}

// appendLocked stamps and appends an event, trimming the rolling log
func (t *Tracker) appendLocked(e Event) {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now()
	t.events = append(t.events, e)
	if t.config.MaxEvents > 0 && len(t.events) > t.config.MaxEvents {
		t.events = t.events[len(t.events)-t.config.MaxEvents:]
	}
}

// Events returns the rolling change log in order
func (t *Tracker) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Event(nil), t.events...)
}

// ClearHistory discards the rolling change log
func (t *Tracker) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = nil
}

// GetChangeSummary reports the rolling unsaved-changes status. A
// change is unsaved while it is younger than the configured window;
// removals, timeline-property changes and batches count as critical.
func (t *Tracker) GetChangeSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := Summary{ChangeTypes: make(map[ChangeType]int)}
	cutoff := time.Now().Add(-t.config.UnsavedWindow)
	targets := make(map[string]struct{})

	for _, e := range t.events {
		summary.TotalChanges++
		summary.ChangeTypes[e.Type]++
		if e.Timestamp.After(cutoff) {
			summary.UnsavedChanges++
		}
		if e.Timestamp.After(summary.LastChangeTime) {
			summary.LastChangeTime = e.Timestamp
		}
		for _, id := range e.TargetIDs {
			targets[id] = struct{}{}
		}
		if e.Type == ChangeRemove || e.Type == ChangeBatch || e.Target == TargetTimeline {
			summary.HasCriticalChanges = true
		}
	}

	for id := range targets {
		summary.AffectedTargets = append(summary.AffectedTargets, id)
	}
	return summary
}

// HasUnsavedChanges reports whether any change falls inside the
// unsaved window
func (t *Tracker) HasUnsavedChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.config.UnsavedWindow)
	for i := len(t.events) - 1; i >= 0; i-- {
		if t.events[i].Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}
