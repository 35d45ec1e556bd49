// app.go
package main

import (
	"context"
	"log"
	"sync"
	"time"

	"reelhist/internal/config"
	"reelhist/internal/eventhub"
	"reelhist/internal/navguard"
	"reelhist/internal/project"
	"reelhist/internal/recovery"
	"reelhist/internal/storage"
	"reelhist/internal/tracker"
	"reelhist/internal/watcher"
)

// App owns the history subsystem's managers and wires them together.
// It is constructed once at startup and passed by reference to the
// websocket router; there are no package-level singletons.
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config

	store           storage.Store
	eventHub        *eventhub.EventHub
	projectManager  *project.Manager
	changeTracker   *tracker.Tracker
	recoveryManager *recovery.Manager
	navGuard        *navguard.Guard
	storeWatcher    *watcher.StoreWatcher
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// Startup initializes every manager. Failures degrade to in-memory
// operation; loss of durable history must never block editing.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config, using defaults: %v", err)
		cfg = config.Defaults()
		cfg.InMemory = true
	}
	a.config = cfg

	a.store = a.openStore(cfg)
	a.eventHub = eventhub.New(ctx)

	projectCfg := project.DefaultConfig()
	projectCfg.History.MaxSize = cfg.MaxHistorySize
	projectCfg.History.CompressionEnabled = cfg.CompressionEnabled
	projectCfg.History.CompressionLevel = cfg.CompressionLevel
	projectCfg.Checkpoint.MaxCheckpoints = cfg.MaxCheckpoints
	projectCfg.Checkpoint.AutoSaveInterval = cfg.AutoSaveInterval
	projectCfg.Checkpoint.CompressionLevel = cfg.CompressionLevel
	projectCfg.MaxUndoDepth = cfg.MaxUndoDepth
	projectCfg.IdleThreshold = cfg.IdleThreshold
	projectCfg.IdleSweepInterval = cfg.IdleSweepInterval
	a.projectManager = project.NewManager(projectCfg, a.store)

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.PollInterval = cfg.PollInterval
	trackerCfg.UnsavedWindow = cfg.UnsavedWindow
	a.changeTracker = tracker.New(trackerCfg, a.projectManager.GetTimelineState)

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.StaleAfter = cfg.RecoveryStaleAfter
	recoveryCfg.ChangeCheckInterval = cfg.ChangeCheckInterval
	recoveryCfg.AutoSaveInterval = cfg.AutoSaveInterval
	recoveryCfg.CompressionLevel = cfg.CompressionLevel
	a.recoveryManager = recovery.NewManager(recoveryCfg, a.store, a.projectManager, a.eventHub)

	guardCfg := navguard.DefaultConfig()
	guardCfg.SafePatterns = cfg.SafeNavigationPatterns
	guardCfg.MaxUnsavedAge = cfg.MaxUnsavedAge
	guardCfg.AutoSaveOnConfirm = cfg.AutoSaveOnConfirm
	a.navGuard = navguard.New(guardCfg)
	a.navGuard.SetAutoSaver(a)

	// Every timeline mutation fans out synchronously: change tracking,
	// navigation guard and recovery all learn about it on the same turn.
	a.projectManager.SetChangeListener(a.onTimelineChanged)
	a.projectManager.StartIdleSweep()
}

// openStore selects the storage backend and arms the conflict watcher
func (a *App) openStore(cfg *config.Config) storage.Store {
	if cfg.InMemory || cfg.StoragePath == "" {
		return storage.NewMemoryStore()
	}

	sqlStore, err := storage.OpenSQLite(cfg.StoragePath)
	if err != nil {
		log.Printf("Failed to open storage at %s, falling back to memory: %v", cfg.StoragePath, err)
		return storage.NewMemoryStore()
	}

	w, err := watcher.New(cfg.StoragePath, time.Second, func(path string, at time.Time) {
		a.eventHub.EmitStorageConflict(eventhub.StorageConflictEvent{Path: path, DetectedAt: at})
	})
	if err != nil {
		log.Printf("Failed to watch storage file: %v", err)
		return sqlStore
	}
	if err := w.Start(); err != nil {
		log.Printf("Failed to start storage watcher: %v", err)
		return sqlStore
	}
	a.storeWatcher = w

	return &selfAwareStore{Store: sqlStore, watcher: w}
}

// onTimelineChanged is the synchronous fan-out for every mutation of
// the active project's timeline state
func (a *App) onTimelineChanged(projectID string) {
	a.changeTracker.NotifyChange(projectID)
	a.navGuard.MarkUnsavedChanges()
	a.recoveryManager.MarkUnsavedChanges()

	summary := a.changeTracker.GetChangeSummary()
	a.eventHub.EmitUnsavedChanges(eventhub.UnsavedChangesEvent{
		ProjectID:      projectID,
		HasUnsaved:     true,
		UnsavedCount:   summary.UnsavedChanges,
		LastChangeTime: summary.LastChangeTime,
		Critical:       summary.HasCriticalChanges,
	})
}

// SaveBeforeNavigation implements navguard.AutoSaver
func (a *App) SaveBeforeNavigation() bool {
	return a.SaveCheckpoint("Auto-save before navigation", true) != nil
}

// SetEventHubBroadcaster attaches the websocket broadcaster
func (a *App) SetEventHubBroadcaster(b eventhub.Broadcaster) {
	a.eventHub.SetBroadcaster(b)
}

// Shutdown persists outstanding state and stops all background work
func (a *App) Shutdown(ctx context.Context) {
	if a.changeTracker != nil {
		a.changeTracker.StopTracking()
	}
	if a.recoveryManager != nil {
		a.recoveryManager.Shutdown()
	}
	if a.projectManager != nil {
		a.projectManager.Shutdown()
	}
	if a.storeWatcher != nil {
		a.storeWatcher.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Failed to close storage: %v", err)
		}
	}
}

// selfAwareStore stamps writes so the conflict watcher can tell this
// process's writes apart from a second instance's
type selfAwareStore struct {
	storage.Store
	watcher *watcher.StoreWatcher
}

func (s *selfAwareStore) Set(key string, value []byte) error {
	s.watcher.NoteSelfWrite()
	return s.Store.Set(key, value)
}

func (s *selfAwareStore) Delete(key string) error {
	s.watcher.NoteSelfWrite()
	return s.Store.Delete(key)
}
