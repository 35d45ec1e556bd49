// bindings.go
package main

import (
	"encoding/json"
	"log"

	"reelhist/internal/checkpoint"
	"reelhist/internal/eventhub"
	"reelhist/internal/history"
	"reelhist/internal/project"
	"reelhist/internal/recovery"
	"reelhist/internal/timeline"
	"reelhist/internal/tracker"
)

// ===== Project Bindings =====

// InitializeProject creates history state for a project without
// activating it. Idempotent.
func (a *App) InitializeProject(projectID string) bool {
	return a.projectManager.InitializeProject(projectID, nil) != nil
}

// SwitchToProject activates the target project: deactivates the
// previous one, retargets change tracking and recovery, and restarts
// the checkpoint auto-save timer
func (a *App) SwitchToProject(projectID string) bool {
	previousID := a.projectManager.ActiveProjectID()
	if previousID == projectID && previousID != "" {
		return true
	}

	state := a.projectManager.SwitchToProject(projectID)
	if state == nil {
		return false
	}

	a.navGuard.ClearUnsavedChanges()
	a.changeTracker.ClearHistory()
	a.changeTracker.StartTracking(projectID)
	a.recoveryManager.Initialize(projectID)

	state.Checkpoints.StartAutoSave(func() *timeline.Snapshot {
		if a.projectManager.ActiveProjectID() != projectID {
			return nil
		}
		return a.projectManager.GetTimelineState()
	})

	a.eventHub.EmitProjectSwitched(eventhub.ProjectSwitchedEvent{
		PreviousID: previousID,
		ProjectID:  projectID,
	})
	return true
}

// RemoveProject discards a project's history, checkpoints and registry
// entry
func (a *App) RemoveProject(projectID string) bool {
	if a.projectManager.ActiveProjectID() == projectID {
		a.changeTracker.StopTracking()
	}
	return a.projectManager.RemoveProject(projectID)
}

// GetAllProjectStats returns per-project resource statistics
func (a *App) GetAllProjectStats() map[string]project.Stats {
	return a.projectManager.GetAllProjectStats()
}

// GetCurrentProjectStats returns the active project's statistics
func (a *App) GetCurrentProjectStats() *project.Stats {
	return a.projectManager.GetCurrentProjectStats()
}

// ===== Timeline Bindings =====

// GetTimelineState returns a copy of the active project's state
func (a *App) GetTimelineState() *timeline.Snapshot {
	return a.projectManager.GetTimelineState()
}

// UpdateTimelineState merges a sparse update into the active project's
// state. The partial arrives as decoded JSON from the UI.
func (a *App) UpdateTimelineState(partial map[string]interface{}) bool {
	data, err := json.Marshal(partial)
	if err != nil {
		log.Printf("Invalid timeline partial: %v", err)
		return false
	}

	var p timeline.Partial
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("Invalid timeline partial: %v", err)
		return false
	}

	return a.projectManager.UpdateTimelineState(p)
}

// Undo steps the active project back one state
func (a *App) Undo() *timeline.Snapshot {
	return a.projectManager.Undo()
}

// Redo reverses the most recent undo
func (a *App) Redo() *timeline.Snapshot {
	return a.projectManager.Redo()
}

// CanUndo reports whether an undo state is available
func (a *App) CanUndo() bool {
	return a.projectManager.CanUndo()
}

// CanRedo reports whether a redo state is available
func (a *App) CanRedo() bool {
	return a.projectManager.CanRedo()
}

// ===== History Bindings =====

// AddToHistory records a discrete edit action against the active
// project
func (a *App) AddToHistory(actionType, description string) *history.Item {
	item := a.projectManager.AddToHistory(actionType, description, nil)
	if item == nil {
		return nil
	}

	stats := a.projectManager.GetCurrentProjectStats()
	size := 0
	if stats != nil {
		size = stats.HistorySize
	}
	a.eventHub.EmitHistoryChanged(eventhub.HistoryChangedEvent{
		ProjectID:   a.projectManager.ActiveProjectID(),
		ActionID:    item.ID,
		ActionType:  item.Type,
		HistorySize: size,
	})
	return item
}

// GetActionHistory returns the active project's actions in insertion
// order
func (a *App) GetActionHistory() []history.Item {
	return a.projectManager.GetActionHistory()
}

// ClearHistory empties the active project's action log
func (a *App) ClearHistory() bool {
	return a.projectManager.ClearHistory()
}

// GetChangeSummary returns the rolling unsaved-changes report
func (a *App) GetChangeSummary() tracker.Summary {
	return a.changeTracker.GetChangeSummary()
}

// ===== Checkpoint Bindings =====

// SaveCheckpoint snapshots the active project's state. A manual save
// closes the unsaved window.
func (a *App) SaveCheckpoint(description string, isAutoSave bool) *checkpoint.Checkpoint {
	cp := a.projectManager.SaveCheckpoint(description, isAutoSave)
	if cp == nil {
		return nil
	}

	if !isAutoSave {
		a.navGuard.ClearUnsavedChanges()
		a.recoveryManager.ClearUnsavedChanges()
	}

	a.eventHub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		ProjectID:    cp.ProjectID,
		CheckpointID: cp.ID,
		Description:  cp.Description,
		IsAutoSave:   cp.IsAutoSave,
	})
	return cp
}

// RestoreCheckpoint replaces the active project's entire state from
// the named checkpoint
func (a *App) RestoreCheckpoint(checkpointID string) bool {
	return a.projectManager.RestoreCheckpoint(checkpointID)
}

// GetCheckpoints returns the active project's checkpoints
func (a *App) GetCheckpoints() []checkpoint.Checkpoint {
	return a.projectManager.GetCheckpoints()
}

// ClearCheckpoints removes all of the active project's checkpoints
func (a *App) ClearCheckpoints() bool {
	return a.projectManager.ClearCheckpoints()
}

// ===== Export / Import Bindings =====

// ExportProjectHistory serializes a project's actions and checkpoints
// into one text blob
func (a *App) ExportProjectHistory(projectID string) string {
	return string(a.projectManager.ExportProjectHistory(projectID))
}

// ImportProjectHistory restores a project from an exported blob. The
// blob's project id must match.
func (a *App) ImportProjectHistory(projectID, blob string) bool {
	return a.projectManager.ImportProjectHistory(projectID, []byte(blob))
}

// CreateBackup writes an on-demand full backup bundle for a project
func (a *App) CreateBackup(projectID string) bool {
	return a.projectManager.CreateBackup(projectID)
}

// ===== Recovery Bindings =====

// GetRecoveryState returns the process-wide recovery record
func (a *App) GetRecoveryState() recovery.State {
	return a.recoveryManager.GetState()
}

// HandleRecoveryAction dispatches the user's recovery decision:
// "restore", "discard" or "continue"
func (a *App) HandleRecoveryAction(projectID, action string) bool {
	return a.recoveryManager.HandleRecovery(projectID, recovery.Action(action))
}

// SetAutoSaveEnabled toggles the recovery auto-save activity
func (a *App) SetAutoSaveEnabled(enabled bool) {
	a.recoveryManager.SetAutoSaveEnabled(enabled)
}

// ===== Navigation Bindings =====

// CanNavigate reports whether navigation to the target may proceed
// without confirmation
func (a *App) CanNavigate(target string) bool {
	return a.navGuard.CanNavigate(target)
}

// RequestNavigationPermission resolves a navigation attempt with the
// user's answer from the UI-side confirmation dialog
func (a *App) RequestNavigationPermission(target string, userConfirmed bool) bool {
	return a.navGuard.ResolveNavigation(target, userConfirmed)
}

// HandleUnloadIntent is called on unload intent. Persists a recovery
// blob for an unsaved session and reports whether the browser-native
// prompt should be armed.
func (a *App) HandleUnloadIntent() bool {
	if a.recoveryManager.HasUnsavedChanges() {
		a.recoveryManager.PersistRecoveryBlob()
	}
	return a.navGuard.HandleUnloadAttempt()
}

// HandlePopState is called on browser back/forward with the user's
// confirmation answer; true means the history entry must be re-pushed.
// The UI runs its own dialog, so this takes the explicit-answer path
// through the guard rather than the Confirmer-driven one.
func (a *App) HandlePopState(target string, userConfirmed bool) bool {
	return a.navGuard.ResolvePopState(target, userConfirmed)
}

// HandleRouteChange gates an in-app route transition
func (a *App) HandleRouteChange(target string, userConfirmed bool) bool {
	return a.navGuard.ResolveNavigation(target, userConfirmed)
}

// HandleVisibilityChange is called when the page becomes hidden or
// visible; hiding with unsaved changes persists a recovery blob
func (a *App) HandleVisibilityChange(hidden bool) {
	a.recoveryManager.HandleVisibilityChange(hidden)
}
