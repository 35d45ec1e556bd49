// internal/recovery/manager.go
package recovery

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"reelhist/internal/checkpoint"
	"reelhist/internal/eventhub"
	"reelhist/internal/history"
	"reelhist/internal/project"
	"reelhist/internal/storage"
	"reelhist/internal/timeline"
)

// Action is the user's decision at the recovery prompt
type Action string

const (
	ActionRestore  Action = "restore"
	ActionDiscard  Action = "discard"
	ActionContinue Action = "continue"
)

// Config holds recovery manager configuration
type Config struct {
	StaleAfter          time.Duration `json:"stale_after"`
	ChangeCheckInterval time.Duration `json:"change_check_interval"`
	AutoSaveInterval    time.Duration `json:"auto_save_interval"`
	CompressionLevel    int           `json:"compression_level"`
}

// DefaultConfig returns default recovery configuration
func DefaultConfig() Config {
	return Config{
		StaleAfter:          24 * time.Hour,
		ChangeCheckInterval: 5 * time.Second,
		AutoSaveInterval:    2 * time.Minute,
		CompressionLevel:    3,
	}
}

// Data is a self-contained bundle sufficient to fully reconstruct a
// project's unsaved session without consulting any other store
type Data struct {
	TimelineState *timeline.Snapshot      `json:"timeline_state"`
	ActionHistory []history.Item          `json:"action_history"`
	Checkpoints   []checkpoint.Checkpoint `json:"checkpoints"`
}

// blob is the persisted form under recovery:<projectId>
type blob struct {
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"project_id"`
	Data      Data      `json:"data"`
}

// State is the process-wide recovery record
type State struct {
	HasUnsavedChanges   bool      `json:"has_unsaved_changes"`
	LastSavedCheckpoint time.Time `json:"last_saved_checkpoint,omitempty"`
	LastActionTimestamp time.Time `json:"last_action_timestamp,omitempty"`
	AutoSaveEnabled     bool      `json:"auto_save_enabled"`
	RecoveryData        *Data     `json:"recovery_data,omitempty"`
}

// Manager persists and restores unsaved sessions across reloads and
// crashes. One manager serves the whole process; it follows the
// active project.
type Manager struct {
	mu       sync.Mutex
	config   Config
	store    storage.Store
	projects *project.Manager
	hub      *eventhub.EventHub

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	state     State
	projectID string
	lastKnown *timeline.Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a recovery manager over the given stores
func NewManager(config Config, store storage.Store, projects *project.Manager, hub *eventhub.EventHub) *Manager {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.CompressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &Manager{
		config:   config,
		store:    store,
		projects: projects,
		hub:      hub,
		encoder:  encoder,
		decoder:  decoder,
		state:    State{AutoSaveEnabled: true},
	}
}

// Initialize points the manager at a project. A recovery blob younger
// than the staleness cutoff raises a recovery-needed event; a stale
// blob is deleted without raising. Also starts the periodic
// change-persist and auto-save activities.
func (m *Manager) Initialize(projectID string) {
	m.stopLoops()

	m.mu.Lock()
	m.projectID = projectID
	m.lastKnown = nil
	m.state.RecoveryData = nil
	m.state.HasUnsavedChanges = false
	m.mu.Unlock()

	if b := m.loadBlob(projectID); b != nil {
		if time.Since(b.Timestamp) <= m.config.StaleAfter {
			m.mu.Lock()
			data := b.Data
			m.state.RecoveryData = &data
			m.state.HasUnsavedChanges = true
			m.mu.Unlock()

			m.hub.EmitRecoveryNeeded(eventhub.RecoveryNeededEvent{
				ProjectID:       projectID,
				SavedAt:         b.Timestamp,
				ActionCount:     len(b.Data.ActionHistory),
				CheckpointCount: len(b.Data.Checkpoints),
			})
		} else {
			if err := m.store.Delete(storage.RecoveryKey(projectID)); err != nil {
				log.Printf("recovery: delete stale blob for %s failed: %v", projectID, err)
			}
		}
	}

	m.startLoops()
}

// startLoops arms the change-persist and auto-save tickers
func (m *Manager) startLoops() {
	m.mu.Lock()
	stop := make(chan struct{})
	m.stop = stop
	changeInterval := m.config.ChangeCheckInterval
	saveInterval := m.config.AutoSaveInterval
	m.mu.Unlock()

	if changeInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			ticker := time.NewTicker(changeInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					m.checkForChanges()
				case <-stop:
					return
				}
			}
		}()
	}

	if saveInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			ticker := time.NewTicker(saveInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					m.autoSaveIfDirty()
				case <-stop:
					return
				}
			}
		}()
	}
}

// stopLoops cancels both periodic activities; no orphaned timers may
// outlive a project switch
func (m *Manager) stopLoops() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// checkForChanges persists a fresh recovery blob whenever the current
// state differs from the last known state
func (m *Manager) checkForChanges() {
	m.mu.Lock()
	projectID := m.projectID
	m.mu.Unlock()

	if projectID == "" || m.projects.ActiveProjectID() != projectID {
		return
	}

	current := m.projects.GetTimelineState()
	if current == nil {
		return
	}

	m.mu.Lock()
	prev := m.lastKnown
	m.lastKnown = current
	m.mu.Unlock()

	if prev == nil || prev.Revision == current.Revision {
		return
	}

	m.mu.Lock()
	m.state.HasUnsavedChanges = true
	m.state.LastActionTimestamp = time.Now()
	m.mu.Unlock()

	m.PersistRecoveryBlob()
}

// autoSaveIfDirty creates a checkpoint and clears unsaved status when
// unsaved changes are outstanding
func (m *Manager) autoSaveIfDirty() {
	m.mu.Lock()
	dirty := m.state.HasUnsavedChanges && m.state.AutoSaveEnabled
	projectID := m.projectID
	m.mu.Unlock()

	if !dirty || projectID == "" || m.projects.ActiveProjectID() != projectID {
		return
	}

	cp := m.projects.SaveCheckpoint("Auto-save", true)
	if cp == nil {
		return
	}

	m.mu.Lock()
	m.state.HasUnsavedChanges = false
	m.state.LastSavedCheckpoint = cp.Timestamp
	m.mu.Unlock()

	m.hub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		ProjectID:    projectID,
		CheckpointID: cp.ID,
		Description:  cp.Description,
		IsAutoSave:   true,
	})
}

// PersistRecoveryBlob snapshots the project's full unsaved session
// under recovery:<projectId>. Failures are logged; editing continues.
func (m *Manager) PersistRecoveryBlob() {
	m.mu.Lock()
	projectID := m.projectID
	m.mu.Unlock()

	if projectID == "" {
		return
	}

	state := m.projects.GetProject(projectID)
	if state == nil {
		return
	}

	b := blob{
		Timestamp: time.Now(),
		ProjectID: projectID,
		Data: Data{
			TimelineState: state.Timeline.Clone(),
			ActionHistory: state.History.AllActions(),
			Checkpoints:   state.Checkpoints.AllCheckpoints(),
		},
	}

	raw, err := m.encodeBlob(b)
	if err != nil {
		log.Printf("recovery: serialize blob for %s failed: %v", projectID, err)
		return
	}
	if err := m.store.Set(storage.RecoveryKey(projectID), raw); err != nil {
		log.Printf("recovery: persist blob for %s failed: %v", projectID, err)
	}
}

// HandleRecovery dispatches the user's recovery decision. Unknown
// actions and unknown projects return false, as does a project that is
// not both the initialized target and the active project: every branch
// writes through the active-project paths, so acting on anything else
// would bleed one project's recovery data into another.
func (m *Manager) HandleRecovery(projectID string, action Action) bool {
	m.mu.Lock()
	initialized := m.projectID
	m.mu.Unlock()

	if projectID != initialized || projectID != m.projects.ActiveProjectID() {
		return false
	}

	switch action {
	case ActionRestore:
		return m.restoreLatestCheckpoint(projectID)
	case ActionDiscard:
		return m.discard(projectID)
	case ActionContinue:
		return m.replayRecoveryData(projectID)
	default:
		return false
	}
}

// restoreLatestCheckpoint loads the newest checkpoint into the active
// state, clears unsaved status and deletes the recovery blob
func (m *Manager) restoreLatestCheckpoint(projectID string) bool {
	state := m.projects.GetProject(projectID)
	if state == nil {
		return false
	}

	latest := state.Checkpoints.LatestCheckpoint()
	if latest == nil {
		return false
	}

	if !m.projects.RestoreCheckpoint(latest.ID) {
		return false
	}

	m.clearUnsaved(projectID)
	return true
}

// discard clears history, checkpoints and the recovery blob
func (m *Manager) discard(projectID string) bool {
	state := m.projects.GetProject(projectID)
	if state == nil {
		return false
	}

	state.History.ClearHistory()
	state.Checkpoints.ClearAllCheckpoints()
	m.clearUnsaved(projectID)
	return true
}

// replayRecoveryData plays the persisted bundle back into the active
// stores: timeline state first, then each action, then each checkpoint
func (m *Manager) replayRecoveryData(projectID string) bool {
	m.mu.Lock()
	data := m.state.RecoveryData
	m.mu.Unlock()

	if data == nil {
		return false
	}

	state := m.projects.GetProject(projectID)
	if state == nil {
		return false
	}

	if data.TimelineState != nil {
		if !m.projects.ReplaceTimelineState(data.TimelineState) {
			return false
		}
	}
	for _, item := range data.ActionHistory {
		state.History.AppendItem(item)
	}
	for _, cp := range data.Checkpoints {
		state.Checkpoints.AppendCheckpoint(cp)
	}

	m.clearUnsaved(projectID)
	return true
}

// clearUnsaved resets unsaved status and removes the persisted blob
func (m *Manager) clearUnsaved(projectID string) {
	if err := m.store.Delete(storage.RecoveryKey(projectID)); err != nil {
		log.Printf("recovery: delete blob for %s failed: %v", projectID, err)
	}

	m.mu.Lock()
	m.state.HasUnsavedChanges = false
	m.state.RecoveryData = nil
	m.lastKnown = nil
	m.mu.Unlock()
}

// ClearUnsavedChanges resets unsaved status after an explicit save,
// removing the now-redundant recovery blob
func (m *Manager) ClearUnsavedChanges() {
	m.mu.Lock()
	projectID := m.projectID
	m.mu.Unlock()

	if projectID == "" {
		return
	}
	m.clearUnsaved(projectID)

	m.mu.Lock()
	m.state.LastSavedCheckpoint = time.Now()
	m.mu.Unlock()
}

// HandleVisibilityChange persists a fresh recovery blob when the page
// becomes hidden while unsaved changes exist
func (m *Manager) HandleVisibilityChange(hidden bool) {
	if !hidden {
		return
	}

	m.mu.Lock()
	dirty := m.state.HasUnsavedChanges
	m.mu.Unlock()

	if dirty {
		m.PersistRecoveryBlob()
	}
}

// MarkUnsavedChanges flags the session dirty outside the periodic scan
func (m *Manager) MarkUnsavedChanges() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.HasUnsavedChanges = true
	m.state.LastActionTimestamp = time.Now()
}

// HasUnsavedChanges reports whether unsaved changes are outstanding
func (m *Manager) HasUnsavedChanges() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.HasUnsavedChanges
}

// GetState returns a copy of the process-wide recovery state
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// SetAutoSaveEnabled toggles the periodic auto-save activity
func (m *Manager) SetAutoSaveEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.AutoSaveEnabled = enabled
}

// Shutdown persists a final recovery blob for an unsaved session and
// stops all periodic work. Called on unload.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	dirty := m.state.HasUnsavedChanges
	m.mu.Unlock()

	if dirty {
		m.PersistRecoveryBlob()
	}
	m.stopLoops()
}

// encodeBlob compresses a recovery blob for storage
func (m *Manager) encodeBlob(b blob) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal recovery blob: %w", err)
	}
	return m.encoder.EncodeAll(data, nil), nil
}

// loadBlob reads and decodes the project's recovery blob. Missing or
// corrupt data is treated as absent.
func (m *Manager) loadBlob(projectID string) *blob {
	raw, ok := m.store.Get(storage.RecoveryKey(projectID))
	if !ok {
		return nil
	}

	data, err := m.decoder.DecodeAll(raw, nil)
	if err != nil {
		log.Printf("recovery: corrupt blob for %s, ignoring: %v", projectID, err)
		return nil
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		log.Printf("recovery: corrupt blob for %s, ignoring: %v", projectID, err)
		return nil
	}
	if b.ProjectID != projectID {
		return nil
	}
	return &b
}
