// internal/project/manager.go
package project

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"reelhist/internal/checkpoint"
	"reelhist/internal/history"
	"reelhist/internal/storage"
	"reelhist/internal/timeline"
)

// Config holds project registry configuration
type Config struct {
	History           history.Config    `json:"history"`
	Checkpoint        checkpoint.Config `json:"checkpoint"`
	MaxUndoDepth      int               `json:"max_undo_depth"`
	IdleThreshold     time.Duration     `json:"idle_threshold"`
	IdleSweepInterval time.Duration     `json:"idle_sweep_interval"`
}

// DefaultConfig returns default project registry configuration
func DefaultConfig() Config {
	return Config{
		History:           history.DefaultConfig(),
		Checkpoint:        checkpoint.DefaultConfig(),
		MaxUndoDepth:      50,
		IdleThreshold:     30 * time.Minute,
		IdleSweepInterval: 5 * time.Minute,
	}
}

// State is the per-project container tracked by the registry
type State struct {
	ProjectID    string
	Timeline     *timeline.Snapshot
	History      *history.Manager
	Checkpoints  *checkpoint.Manager
	LastAccessed time.Time
	IsActive     bool

	undoStack []*timeline.Snapshot
	redoStack []*timeline.Snapshot
}

// Stats summarizes one project's resource usage
type Stats struct {
	ProjectID       string    `json:"project_id"`
	HistorySize     int       `json:"history_size"`
	CheckpointCount int       `json:"checkpoint_count"`
	MemoryUsage     int       `json:"memory_usage"`
	LastAccessed    time.Time `json:"last_accessed"`
	IsActive        bool      `json:"is_active"`
}

// ChangeListener is notified synchronously after every timeline mutation
type ChangeListener func(projectID string)

// Manager owns the registry of per-project history state. At most one
// project is active at a time; every mutating operation targets the
// active project only.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	store    storage.Store
	projects map[string]*State
	activeID string
	listener ChangeListener

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// NewManager creates an empty project registry backed by the given store
func NewManager(config Config, store storage.Store) *Manager {
	return &Manager{
		config:   config,
		store:    store,
		projects: make(map[string]*State),
	}
}

// SetChangeListener installs the callback invoked after each mutation
// of the active project's timeline state
func (m *Manager) SetChangeListener(listener ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listener = listener
}

// InitializeProject creates the project's history state if it does not
// exist yet. Idempotent: an existing project is returned untouched.
func (m *Manager) InitializeProject(projectID string, initial *timeline.Snapshot) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initLocked(projectID, initial)
}

func (m *Manager) initLocked(projectID string, initial *timeline.Snapshot) *State {
	if state, exists := m.projects[projectID]; exists {
		return state
	}

	if initial == nil {
		initial = timeline.NewSnapshot()
	} else {
		initial = initial.Clone()
	}

	state := &State{
		ProjectID:    projectID,
		Timeline:     initial,
		History:      history.NewManager(projectID, m.config.History),
		Checkpoints:  checkpoint.NewManager(projectID, m.config.Checkpoint, m.store),
		LastAccessed: time.Now(),
	}
	m.projects[projectID] = state
	return state
}

// SwitchToProject deactivates the current active project and activates
// the target, creating it on first access. The handoff is atomic: at
// no point are two projects active.
func (m *Manager) SwitchToProject(projectID string) *State {
	m.mu.Lock()

	if m.activeID == projectID {
		if state, ok := m.projects[projectID]; ok {
			state.LastAccessed = time.Now()
			m.mu.Unlock()
			return state
		}
	}

	var prevCheckpoints *checkpoint.Manager
	if prev, ok := m.projects[m.activeID]; ok {
		prev.IsActive = false
		prev.LastAccessed = time.Now()
		prevCheckpoints = prev.Checkpoints
	}

	state := m.initLocked(projectID, nil)
	state.IsActive = true
	state.LastAccessed = time.Now()
	m.activeID = projectID
	m.mu.Unlock()

	// Stop the previous auto-save outside the lock: its supplier may be
	// mid-tick, reading state through this manager.
	if prevCheckpoints != nil {
		prevCheckpoints.StopAutoSave()
	}
	return state
}

// CurrentProject returns the active project's state, or nil
func (m *Manager) CurrentProject() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.projects[m.activeID]
}

// ActiveProjectID returns the id of the active project, or ""
func (m *Manager) ActiveProjectID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.activeID
}

// GetProject returns the state for any known project, or nil
func (m *Manager) GetProject(projectID string) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.projects[projectID]
}

// GetTimelineState returns a deep copy of the active project's
// timeline state, or nil when no project is active
func (m *Manager) GetTimelineState() *timeline.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.projects[m.activeID]
	if !ok {
		return nil
	}
	return state.Timeline.Clone()
}

// UpdateTimelineState merges a sparse update into the active project's
// timeline state. The prior state is pushed onto the undo stack and
// the redo stack is cleared. Returns false when no project is active.
func (m *Manager) UpdateTimelineState(partial timeline.Partial) bool {
	m.mu.Lock()

	state, ok := m.projects[m.activeID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	state.undoStack = append(state.undoStack, state.Timeline.Clone())
	if m.config.MaxUndoDepth > 0 && len(state.undoStack) > m.config.MaxUndoDepth {
		state.undoStack = state.undoStack[len(state.undoStack)-m.config.MaxUndoDepth:]
	}
	state.redoStack = nil

	state.Timeline.ApplyPartial(partial)
	state.LastAccessed = time.Now()

	listener := m.listener
	projectID := m.activeID
	m.mu.Unlock()

	if listener != nil {
		listener(projectID)
	}
	return true
}

// ReplaceTimelineState swaps the active project's entire snapshot
// atomically, as done when restoring a checkpoint or recovery blob
func (m *Manager) ReplaceTimelineState(snapshot *timeline.Snapshot) bool {
	if snapshot == nil {
		return false
	}

	m.mu.Lock()

	state, ok := m.projects[m.activeID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	state.undoStack = append(state.undoStack, state.Timeline.Clone())
	if m.config.MaxUndoDepth > 0 && len(state.undoStack) > m.config.MaxUndoDepth {
		state.undoStack = state.undoStack[len(state.undoStack)-m.config.MaxUndoDepth:]
	}
	state.redoStack = nil

	state.Timeline = snapshot.Clone()
	state.LastAccessed = time.Now()

	listener := m.listener
	projectID := m.activeID
	m.mu.Unlock()

	if listener != nil {
		listener(projectID)
	}
	return true
}

// Undo steps the active project back one state and returns the
// snapshot to install, or nil when the undo stack is empty
func (m *Manager) Undo() *timeline.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.projects[m.activeID]
	if !ok || len(state.undoStack) == 0 {
		return nil
	}

	prev := state.undoStack[len(state.undoStack)-1]
	state.undoStack = state.undoStack[:len(state.undoStack)-1]
	state.redoStack = append(state.redoStack, state.Timeline)
	state.Timeline = prev
	state.LastAccessed = time.Now()
	return prev.Clone()
}

// Redo reverses the most recent Undo and returns the snapshot to
// install, or nil when the redo stack is empty
func (m *Manager) Redo() *timeline.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.projects[m.activeID]
	if !ok || len(state.redoStack) == 0 {
		return nil
	}

	next := state.redoStack[len(state.redoStack)-1]
	state.redoStack = state.redoStack[:len(state.redoStack)-1]
	state.undoStack = append(state.undoStack, state.Timeline)
	state.Timeline = next
	state.LastAccessed = time.Now()
	return next.Clone()
}

// CanUndo reports whether the active project has undo states
func (m *Manager) CanUndo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.projects[m.activeID]
	return ok && len(state.undoStack) > 0
}

// CanRedo reports whether the active project has redo states
func (m *Manager) CanRedo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.projects[m.activeID]
	return ok && len(state.redoStack) > 0
}

// AddToHistory records an action against the active project, attaching
// the current timeline state. Returns nil when no project is active.
func (m *Manager) AddToHistory(actionType, description string, metadata map[string]interface{}) *history.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.projects[m.activeID]
	if !ok {
		return nil
	}

	item := state.History.AddAction(actionType, description, state.Timeline, metadata)
	state.LastAccessed = time.Now()
	return &item
}

// GetActionHistory returns the active project's actions in insertion
// order, or an empty slice when no project is active
func (m *Manager) GetActionHistory() []history.Item {
	m.mu.RLock()
	state, ok := m.projects[m.activeID]
	m.mu.RUnlock()

	if !ok {
		return []history.Item{}
	}
	return state.History.AllActions()
}

// SaveCheckpoint snapshots the active project's state, or returns nil
// when no project is active
func (m *Manager) SaveCheckpoint(description string, isAutoSave bool) *checkpoint.Checkpoint {
	m.mu.Lock()
	state, ok := m.projects[m.activeID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	snapshot := state.Timeline.Clone()
	actionCount := state.History.GetStats().Count
	state.LastAccessed = time.Now()
	cm := state.Checkpoints
	m.mu.Unlock()

	cp := cm.CreateCheckpoint(snapshot, description, isAutoSave, actionCount)
	return &cp
}

// RestoreCheckpoint replaces the active project's entire timeline
// state from the named checkpoint. Returns false when the checkpoint
// or active project is missing.
func (m *Manager) RestoreCheckpoint(checkpointID string) bool {
	m.mu.RLock()
	state, ok := m.projects[m.activeID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	restored := state.Checkpoints.RestoreFromCheckpoint(checkpointID)
	if restored == nil {
		return false
	}
	return m.ReplaceTimelineState(restored)
}

// GetCheckpoints returns the active project's checkpoints, or an empty
// slice when no project is active
func (m *Manager) GetCheckpoints() []checkpoint.Checkpoint {
	m.mu.RLock()
	state, ok := m.projects[m.activeID]
	m.mu.RUnlock()

	if !ok {
		return []checkpoint.Checkpoint{}
	}
	return state.Checkpoints.AllCheckpoints()
}

// ClearHistory empties the active project's action log
func (m *Manager) ClearHistory() bool {
	m.mu.RLock()
	state, ok := m.projects[m.activeID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	state.History.ClearHistory()
	return true
}

// ClearCheckpoints removes all of the active project's checkpoints
func (m *Manager) ClearCheckpoints() bool {
	m.mu.RLock()
	state, ok := m.projects[m.activeID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	state.Checkpoints.ClearAllCheckpoints()
	return true
}

// RemoveProject discards a project's history, checkpoints and registry
// entry. If it was active there is no active project afterward.
func (m *Manager) RemoveProject(projectID string) bool {
	m.mu.Lock()

	state, ok := m.projects[projectID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	delete(m.projects, projectID)
	if m.activeID == projectID {
		m.activeID = ""
	}
	m.mu.Unlock()

	// Same as SwitchToProject: the auto-save supplier may be blocked on
	// this manager's lock, so stop it only after releasing.
	state.Checkpoints.StopAutoSave()
	state.History.ClearHistory()
	state.Checkpoints.ClearAllCheckpoints()
	return true
}

// statsLocked computes stats for one project; caller holds the lock
func (m *Manager) statsLocked(state *State) Stats {
	historyStats := state.History.GetStats()

	memory := state.Timeline.SerializedSize() + historyStats.MemoryBytes
	for _, cp := range state.Checkpoints.AllCheckpoints() {
		if cp.State != nil {
			memory += cp.State.SerializedSize()
		}
	}

	return Stats{
		ProjectID:       state.ProjectID,
		HistorySize:     historyStats.Count,
		CheckpointCount: state.Checkpoints.Count(),
		MemoryUsage:     memory,
		LastAccessed:    state.LastAccessed,
		IsActive:        state.IsActive,
	}
}

// GetAllProjectStats returns stats for every known project
func (m *Manager) GetAllProjectStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.projects))
	for id, state := range m.projects {
		out[id] = m.statsLocked(state)
	}
	return out
}

// GetCurrentProjectStats returns stats for the active project, or nil
func (m *Manager) GetCurrentProjectStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.projects[m.activeID]
	if !ok {
		return nil
	}
	stats := m.statsLocked(state)
	return &stats
}

// projectBundle is the serialized form produced by ExportProjectHistory
type projectBundle struct {
	ProjectID   string          `json:"project_id"`
	History     json.RawMessage `json:"history"`
	Checkpoints json.RawMessage `json:"checkpoints"`
	ExportedAt  time.Time       `json:"exported_at"`
}

// ExportProjectHistory serializes a project's actions and checkpoints
// into one self-describing blob, or nil for an unknown project
func (m *Manager) ExportProjectHistory(projectID string) []byte {
	m.mu.RLock()
	state, ok := m.projects[projectID]
	m.mu.RUnlock()

	if !ok {
		return nil
	}

	bundle := projectBundle{
		ProjectID:   projectID,
		History:     state.History.Export(),
		Checkpoints: state.Checkpoints.ExportCheckpoints(),
		ExportedAt:  time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		log.Printf("project: export %s failed: %v", projectID, err)
		return nil
	}
	return data
}

// ImportProjectHistory restores a project's actions and checkpoints
// from an exported blob. Fails closed on a project id mismatch,
// leaving existing state untouched.
func (m *Manager) ImportProjectHistory(projectID string, blob []byte) bool {
	var bundle projectBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		log.Printf("project: import %s failed: %v", projectID, err)
		return false
	}
	if bundle.ProjectID != projectID {
		return false
	}

	m.mu.Lock()
	state := m.initLocked(projectID, nil)
	m.mu.Unlock()

	if len(bundle.History) > 0 && !state.History.Import(bundle.History) {
		return false
	}
	if len(bundle.Checkpoints) > 0 && !state.Checkpoints.ImportCheckpoints(bundle.Checkpoints) {
		return false
	}
	return true
}

// CreateBackup writes an on-demand full backup bundle under
// backup:<projectId>:<epochMillis>. Backups are never auto-deleted.
func (m *Manager) CreateBackup(projectID string) bool {
	blob := m.ExportProjectHistory(projectID)
	if blob == nil {
		return false
	}

	key := storage.BackupKey(projectID, time.Now().UnixMilli())
	if err := m.store.Set(key, blob); err != nil {
		log.Printf("project: backup %s failed: %v", projectID, err)
		return false
	}
	return true
}

// StartIdleSweep arms a background sweep purging history and
// checkpoints (but not the registry entry) of inactive projects idle
// past the threshold
func (m *Manager) StartIdleSweep() {
	m.StopIdleSweep()

	m.mu.Lock()
	stop := make(chan struct{})
	m.sweepStop = stop
	interval := m.config.IdleSweepInterval
	m.mu.Unlock()

	if interval <= 0 {
		return
	}

	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweepIdle()
			case <-stop:
				return
			}
		}
	}()
}

// StopIdleSweep disarms the idle sweep
func (m *Manager) StopIdleSweep() {
	m.mu.Lock()
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
	m.mu.Unlock()

	m.sweepWG.Wait()
}

// sweepIdle purges resources of projects idle past the threshold
func (m *Manager) sweepIdle() {
	m.mu.RLock()
	cutoff := time.Now().Add(-m.config.IdleThreshold)
	var idle []*State
	for _, state := range m.projects {
		if !state.IsActive && state.LastAccessed.Before(cutoff) {
			idle = append(idle, state)
		}
	}
	m.mu.RUnlock()

	for _, state := range idle {
		state.History.ClearHistory()
		state.Checkpoints.ClearAllCheckpoints()
		log.Printf("project: purged idle project %s", state.ProjectID)
	}
}

// Shutdown stops background work for every project
func (m *Manager) Shutdown() {
	m.StopIdleSweep()

	m.mu.RLock()
	var managers []*checkpoint.Manager
	for _, state := range m.projects {
		managers = append(managers, state.Checkpoints)
	}
	m.mu.RUnlock()

	for _, cm := range managers {
		cm.StopAutoSave()
	}
}
