// internal/checkpoint/manager.go
package checkpoint

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"reelhist/internal/storage"
	"reelhist/internal/timeline"
)

// StateSupplier provides the latest timeline state for auto-save
type StateSupplier func() *timeline.Snapshot

// Manager manages a project's named checkpoints, persisted as one blob
// per project and capped at Config.MaxCheckpoints (oldest evicted)
type Manager struct {
	mu          sync.RWMutex
	projectID   string
	config      Config
	store       storage.Store
	codec       *codec
	checkpoints []Checkpoint

	autoSaveStop chan struct{}
	autoSaveWG   sync.WaitGroup
}

// NewManager creates a checkpoint manager for one project, eagerly
// loading any persisted checkpoints. Corrupt or missing data starts
// the manager empty.
func NewManager(projectID string, config Config, store storage.Store) *Manager {
	m := &Manager{
		projectID: projectID,
		config:    config,
		store:     store,
		codec:     newCodec(config.CompressionLevel),
	}
	m.checkpoints = m.codec.load(store, projectID)
	return m
}

// ProjectID returns the owning project id
func (m *Manager) ProjectID() string {
	return m.projectID
}

// CreateCheckpoint captures the given state as a new checkpoint and
// persists the full list synchronously. The oldest checkpoint is
// evicted once the cap is exceeded. Persistence failures are logged;
// the in-memory list stays authoritative.
func (m *Manager) CreateCheckpoint(state *timeline.Snapshot, description string, isAutoSave bool, actionCount int) Checkpoint {
	cp := Checkpoint{
		ID:          GenerateID(),
		ProjectID:   m.projectID,
		Timestamp:   time.Now(),
		Description: description,
		IsAutoSave:  isAutoSave,
		State:       state.Clone(),
	}
	if state != nil {
		cp.Metadata = Metadata{
			LayerCount:  len(state.Layers),
			ClipCount:   state.CountClips(),
			ActionCount: actionCount,
			Duration:    state.Duration,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints = append(m.checkpoints, cp)
	if m.config.MaxCheckpoints > 0 && len(m.checkpoints) > m.config.MaxCheckpoints {
		m.checkpoints = m.checkpoints[len(m.checkpoints)-m.config.MaxCheckpoints:]
	}

	if err := m.codec.persist(m.store, m.projectID, m.checkpoints); err != nil {
		log.Printf("checkpoint: persist for %s failed: %v", m.projectID, err)
	}

	return cp
}

// AppendCheckpoint re-adds a previously created checkpoint, preserving
// its id and timestamp. Used when replaying a recovery blob. Entries
// for a different project are ignored.
func (m *Manager) AppendCheckpoint(cp Checkpoint) bool {
	if cp.ProjectID != m.projectID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.checkpoints {
		if m.checkpoints[i].ID == cp.ID {
			return true
		}
	}

	m.checkpoints = append(m.checkpoints, cp)
	if m.config.MaxCheckpoints > 0 && len(m.checkpoints) > m.config.MaxCheckpoints {
		m.checkpoints = m.checkpoints[len(m.checkpoints)-m.config.MaxCheckpoints:]
	}

	if err := m.codec.persist(m.store, m.projectID, m.checkpoints); err != nil {
		log.Printf("checkpoint: persist for %s failed: %v", m.projectID, err)
	}
	return true
}

// GetCheckpoint returns the checkpoint with the given id, or nil
func (m *Manager) GetCheckpoint(id string) *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.checkpoints {
		if m.checkpoints[i].ID == id {
			cp := m.checkpoints[i]
			return &cp
		}
	}
	return nil
}

// AllCheckpoints returns every checkpoint in creation order
func (m *Manager) AllCheckpoints() []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Checkpoint(nil), m.checkpoints...)
}

// LatestCheckpoint returns the newest checkpoint, or nil when empty
func (m *Manager) LatestCheckpoint() *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checkpoints) == 0 {
		return nil
	}
	cp := m.checkpoints[len(m.checkpoints)-1]
	return &cp
}

// CheckpointsByType returns checkpoints filtered by auto-save flag
func (m *Manager) CheckpointsByType(isAutoSave bool) []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Checkpoint
	for _, cp := range m.checkpoints {
		if cp.IsAutoSave == isAutoSave {
			out = append(out, cp)
		}
	}
	return out
}

// CheckpointsInRange returns checkpoints with a timestamp in [t0, t1]
func (m *Manager) CheckpointsInRange(t0, t1 time.Time) []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Checkpoint
	for _, cp := range m.checkpoints {
		if !cp.Timestamp.Before(t0) && !cp.Timestamp.After(t1) {
			out = append(out, cp)
		}
	}
	return out
}

// RestoreFromCheckpoint returns a deep copy of the checkpoint's state,
// or nil if the checkpoint does not exist. The caller installs the
// returned snapshot as the project's entire state.
func (m *Manager) RestoreFromCheckpoint(id string) *timeline.Snapshot {
	cp := m.GetCheckpoint(id)
	if cp == nil || cp.State == nil {
		return nil
	}
	return cp.State.Clone()
}

// DeleteCheckpoint removes the checkpoint with the given id
func (m *Manager) DeleteCheckpoint(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.checkpoints {
		if m.checkpoints[i].ID == id {
			m.checkpoints = append(m.checkpoints[:i], m.checkpoints[i+1:]...)
			if err := m.codec.persist(m.store, m.projectID, m.checkpoints); err != nil {
				log.Printf("checkpoint: persist for %s failed: %v", m.projectID, err)
			}
			return true
		}
	}
	return false
}

// ClearAllCheckpoints removes every checkpoint and the persisted blob
func (m *Manager) ClearAllCheckpoints() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints = nil
	if err := m.store.Delete(storage.HistoryKey(m.projectID)); err != nil {
		log.Printf("checkpoint: clear persisted blob for %s failed: %v", m.projectID, err)
	}
}

// Count returns the number of stored checkpoints
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.checkpoints)
}

// StartAutoSave arms a recurring timer that snapshots the state
// returned by the supplier. Calling it again restarts the timer.
func (m *Manager) StartAutoSave(supplier StateSupplier) {
	m.StopAutoSave()

	m.mu.Lock()
	stop := make(chan struct{})
	m.autoSaveStop = stop
	interval := m.config.AutoSaveInterval
	m.mu.Unlock()

	if interval <= 0 {
		return
	}

	m.autoSaveWG.Add(1)
	go func() {
		defer m.autoSaveWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				state := supplier()
				if state == nil {
					continue
				}
				m.CreateCheckpoint(state, "Auto-save", true, 0)
			case <-stop:
				return
			}
		}
	}()
}

// StopAutoSave disarms the auto-save timer. Safe to call when the
// timer is not running; leaves no dangling goroutine behind.
func (m *Manager) StopAutoSave() {
	m.mu.Lock()
	if m.autoSaveStop != nil {
		close(m.autoSaveStop)
		m.autoSaveStop = nil
	}
	m.mu.Unlock()

	m.autoSaveWG.Wait()
}

// ExportCheckpoints yields a self-describing serialized bundle
func (m *Manager) ExportCheckpoints() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundle := ExportBundle{
		ProjectID:   m.projectID,
		Config:      m.config,
		Checkpoints: m.checkpoints,
		ExportedAt:  time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		log.Printf("checkpoint: export for %s failed: %v", m.projectID, err)
		return nil
	}
	return data
}

// ImportCheckpoints replaces the checkpoint list from an exported
// bundle. It is a no-op returning false when the bundle's project id
// does not match.
func (m *Manager) ImportCheckpoints(blob []byte) bool {
	var bundle ExportBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		log.Printf("checkpoint: import for %s failed: %v", m.projectID, err)
		return false
	}

	if bundle.ProjectID != m.projectID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoints := bundle.Checkpoints
	if m.config.MaxCheckpoints > 0 && len(checkpoints) > m.config.MaxCheckpoints {
		checkpoints = checkpoints[len(checkpoints)-m.config.MaxCheckpoints:]
	}
	m.checkpoints = append([]Checkpoint{}, checkpoints...)

	if err := m.codec.persist(m.store, m.projectID, m.checkpoints); err != nil {
		log.Printf("checkpoint: persist for %s failed: %v", m.projectID, err)
	}
	return true
}
