package recovery

import (
	"sync"
	"testing"
	"time"

	"reelhist/internal/eventhub"
	"reelhist/internal/project"
	"reelhist/internal/storage"
	"reelhist/internal/timeline"
)

// captureBroadcaster records emitted events for assertions
type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	eventType string
	payload   interface{}
}

func (c *captureBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{eventType, payload})
}

func (c *captureBroadcaster) ofType(eventType string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *storage.MemoryStore
	projects *project.Manager
	hub      *eventhub.EventHub
	capture  *captureBroadcaster
	manager  *Manager
}

// newFixture builds a recovery manager with background loops disabled
// so tests drive every step themselves
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemoryStore()
	projects := project.NewManager(project.DefaultConfig(), store)

	capture := &captureBroadcaster{}
	hub := eventhub.New(nil)
	hub.SetBroadcaster(capture)

	config := DefaultConfig()
	config.ChangeCheckInterval = 0
	config.AutoSaveInterval = 0

	return &fixture{
		store:    store,
		projects: projects,
		hub:      hub,
		capture:  capture,
		manager:  NewManager(config, store, projects, hub),
	}
}

func zoomPartial(zoom float64) timeline.Partial {
	return timeline.Partial{Zoom: &zoom}
}

func TestPersistAndRecoverBlob(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.projects.AddToHistory("addClip", "clip one", nil)
	f.projects.UpdateTimelineState(zoomPartial(2))

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()

	if _, ok := f.store.Get(storage.RecoveryKey("p1")); !ok {
		t.Fatal("Expected recovery blob in store")
	}

	// A second session over the same store finds the fresh blob
	second := newFixture(t)
	second.store = f.store
	second.projects = project.NewManager(project.DefaultConfig(), f.store)
	second.manager = NewManager(second.manager.config, f.store, second.projects, second.hub)

	second.projects.SwitchToProject("p1")
	second.manager.Initialize("p1")
	defer second.manager.Shutdown()

	state := second.manager.GetState()
	if !state.HasUnsavedChanges {
		t.Error("Expected unsaved changes after finding a fresh blob")
	}
	if state.RecoveryData == nil {
		t.Fatal("Expected recovery data loaded")
	}
	if len(state.RecoveryData.ActionHistory) != 1 {
		t.Errorf("Expected 1 recovered action, got %d", len(state.RecoveryData.ActionHistory))
	}
	if state.RecoveryData.TimelineState.Zoom != 2 {
		t.Errorf("Expected recovered zoom 2, got %v", state.RecoveryData.TimelineState.Zoom)
	}

	needed := second.capture.ofType("recovery:needed")
	if len(needed) != 1 {
		t.Fatalf("Expected one recovery:needed event, got %d", len(needed))
	}
	payload := needed[0].payload.(eventhub.RecoveryNeededEvent)
	if payload.ProjectID != "p1" || payload.ActionCount != 1 {
		t.Errorf("Unexpected event payload %+v", payload)
	}
}

func TestStaleBlobDeletedSilently(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")

	stale := blob{
		Timestamp: time.Now().Add(-48 * time.Hour),
		ProjectID: "p1",
		Data:      Data{TimelineState: timeline.NewSnapshot()},
	}
	raw, err := f.manager.encodeBlob(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(storage.RecoveryKey("p1"), raw); err != nil {
		t.Fatal(err)
	}

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Stale blob should have been deleted")
	}
	if f.manager.GetState().RecoveryData != nil {
		t.Error("Stale blob should not produce recovery data")
	}
	if got := f.capture.ofType("recovery:needed"); len(got) != 0 {
		t.Errorf("Stale blob raised %d recovery:needed events", len(got))
	}
}

func TestCorruptBlobIgnored(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.store.Set(storage.RecoveryKey("p1"), []byte("not zstd"))

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	if f.manager.GetState().RecoveryData != nil {
		t.Error("Corrupt blob should be treated as absent")
	}
}

func TestHandleRecoveryRestore(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.projects.UpdateTimelineState(zoomPartial(2))
	f.projects.SaveCheckpoint("known good", false)
	f.projects.UpdateTimelineState(zoomPartial(9))

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()
	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()

	if !f.manager.HandleRecovery("p1", ActionRestore) {
		t.Fatal("Restore failed")
	}
	if got := f.projects.GetTimelineState().Zoom; got != 2 {
		t.Errorf("Expected checkpoint zoom 2 after restore, got %v", got)
	}
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Recovery blob should be deleted after restore")
	}
	if f.manager.HasUnsavedChanges() {
		t.Error("Unsaved flag should clear after restore")
	}
}

func TestHandleRecoveryDiscard(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.projects.AddToHistory("addClip", "x", nil)
	f.projects.SaveCheckpoint("cp", false)

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()
	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()

	if !f.manager.HandleRecovery("p1", ActionDiscard) {
		t.Fatal("Discard failed")
	}
	if got := len(f.projects.GetActionHistory()); got != 0 {
		t.Errorf("Expected history cleared, got %d actions", got)
	}
	if got := len(f.projects.GetCheckpoints()); got != 0 {
		t.Errorf("Expected checkpoints cleared, got %d", got)
	}
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Recovery blob should be deleted after discard")
	}
}

func TestHandleRecoveryContinue(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.projects.AddToHistory("addClip", "from last session", nil)
	f.projects.UpdateTimelineState(zoomPartial(5))
	f.projects.SaveCheckpoint("session checkpoint", false)

	f.manager.Initialize("p1")
	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()
	f.manager.Shutdown()

	// Fresh session: empty project, blob still on disk
	second := project.NewManager(project.DefaultConfig(), f.store)
	second.SwitchToProject("p1")
	m2 := NewManager(f.manager.config, f.store, second, f.hub)
	m2.Initialize("p1")
	defer m2.Shutdown()

	if !m2.HandleRecovery("p1", ActionContinue) {
		t.Fatal("Continue failed")
	}
	if got := second.GetTimelineState().Zoom; got != 5 {
		t.Errorf("Expected replayed zoom 5, got %v", got)
	}
	actions := second.GetActionHistory()
	if len(actions) != 1 || actions[0].Description != "from last session" {
		t.Errorf("Expected replayed action, got %+v", actions)
	}
	if got := len(second.GetCheckpoints()); got != 1 {
		t.Errorf("Expected replayed checkpoint, got %d", got)
	}
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Recovery blob should be deleted after continue")
	}
}

func TestHandleRecoveryRejectsInactiveProject(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.projects.UpdateTimelineState(zoomPartial(9))
	f.projects.SaveCheckpoint("p1 checkpoint", false)

	f.manager.Initialize("p1")
	defer f.manager.Shutdown()
	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()

	// Re-initialize against the fresh blob so RecoveryData is loaded,
	// then make another project active
	f.manager.Initialize("p1")
	f.projects.SwitchToProject("p2")

	for _, action := range []Action{ActionContinue, ActionRestore, ActionDiscard} {
		if f.manager.HandleRecovery("p1", action) {
			t.Errorf("Action %q accepted while p1 is not active", action)
		}
	}
	if got := f.projects.GetTimelineState().Zoom; got == 9 {
		t.Error("p2's timeline was overwritten with p1's recovery data")
	}

	// Initialized project and active project must also agree
	f.manager.Initialize("p2")
	if f.manager.HandleRecovery("p1", ActionContinue) {
		t.Error("Action accepted for a project the manager was not initialized for")
	}
}

func TestHandleRecoveryUnknownAction(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	if f.manager.HandleRecovery("p1", Action("explode")) {
		t.Error("Unknown action should be rejected")
	}
	if f.manager.HandleRecovery("ghost", ActionRestore) {
		t.Error("Unknown project should be rejected")
	}
}

func TestVisibilityChangePersists(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	f.manager.HandleVisibilityChange(true)
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Clean session should not persist a blob on hide")
	}

	f.manager.MarkUnsavedChanges()
	f.manager.HandleVisibilityChange(false)
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Becoming visible should not persist a blob")
	}

	f.manager.HandleVisibilityChange(true)
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); !ok {
		t.Error("Hiding with unsaved changes should persist a blob")
	}
}

func TestShutdownPersistsDirtySession(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.manager.Initialize("p1")

	f.manager.MarkUnsavedChanges()
	f.manager.Shutdown()

	if _, ok := f.store.Get(storage.RecoveryKey("p1")); !ok {
		t.Error("Shutdown with unsaved changes should persist a blob")
	}
}

func TestClearUnsavedChanges(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")
	f.manager.Initialize("p1")
	defer f.manager.Shutdown()

	f.manager.MarkUnsavedChanges()
	f.manager.PersistRecoveryBlob()
	f.manager.ClearUnsavedChanges()

	if f.manager.HasUnsavedChanges() {
		t.Error("Expected unsaved flag cleared")
	}
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
		t.Error("Expected recovery blob removed after explicit save")
	}
	if f.manager.GetState().LastSavedCheckpoint.IsZero() {
		t.Error("Expected last saved checkpoint stamped")
	}
}

func TestChangeDetectionLoop(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")

	config := DefaultConfig()
	config.ChangeCheckInterval = 10 * time.Millisecond
	config.AutoSaveInterval = 0
	m := NewManager(config, f.store, f.projects, f.hub)

	m.Initialize("p1")
	defer m.Shutdown()

	// Let the loop establish its baseline, then mutate
	time.Sleep(30 * time.Millisecond)
	f.projects.UpdateTimelineState(zoomPartial(3))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.store.Get(storage.RecoveryKey("p1")); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := f.store.Get(storage.RecoveryKey("p1")); !ok {
		t.Fatal("Change detection loop never persisted a blob")
	}
	if !m.HasUnsavedChanges() {
		t.Error("Expected unsaved flag set by change detection")
	}
}

func TestAutoSaveLoop(t *testing.T) {
	f := newFixture(t)
	f.projects.SwitchToProject("p1")

	config := DefaultConfig()
	config.ChangeCheckInterval = 0
	config.AutoSaveInterval = 10 * time.Millisecond
	m := NewManager(config, f.store, f.projects, f.hub)

	m.Initialize("p1")
	defer m.Shutdown()
	m.MarkUnsavedChanges()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(f.projects.GetCheckpoints()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	checkpoints := f.projects.GetCheckpoints()
	if len(checkpoints) == 0 {
		t.Fatal("Auto-save loop never created a checkpoint")
	}
	if !checkpoints[0].IsAutoSave {
		t.Error("Expected auto-save checkpoint")
	}
	if m.HasUnsavedChanges() {
		t.Error("Auto-save should clear the unsaved flag")
	}
	if got := f.capture.ofType("checkpoint:created"); len(got) == 0 {
		t.Error("Expected checkpoint:created event")
	}

	t.Run("Disabled", func(t *testing.T) {
		m.SetAutoSaveEnabled(false)
		f.projects.ClearCheckpoints()
		m.MarkUnsavedChanges()

		time.Sleep(50 * time.Millisecond)
		if len(f.projects.GetCheckpoints()) != 0 {
			t.Error("Disabled auto-save still created checkpoints")
		}
	})
}
