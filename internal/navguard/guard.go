// internal/navguard/guard.go
package navguard

import (
	"log"
	"strings"
	"sync"
	"time"
)

// Confirmer asks the user to confirm leaving with unsaved changes.
// The UI layer supplies the implementation. Embedders that cannot
// block on a dialog (the websocket bindings) leave the confirmer unset
// and answer through ResolveNavigation instead; the two paths share
// allowConfirmed, so the outcome of a confirmed navigation is the same
// either way.
type Confirmer interface {
	ConfirmNavigation(target string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface
type ConfirmerFunc func(target string) bool

func (f ConfirmerFunc) ConfirmNavigation(target string) bool {
	return f(target)
}

// AutoSaver saves the current project before a confirmed navigation
type AutoSaver interface {
	SaveBeforeNavigation() bool
}

// Config holds navigation guard configuration
type Config struct {
	// SafePatterns are target substrings navigation is always allowed
	// to, e.g. routes within the same project.
	SafePatterns []string `json:"safe_patterns"`
	// MaxUnsavedAge treats an unsaved window older than this as
	// abandoned and safe to lose.
	MaxUnsavedAge time.Duration `json:"max_unsaved_age"`
	// AutoSaveOnConfirm saves before allowing a confirmed navigation.
	AutoSaveOnConfirm bool `json:"auto_save_on_confirm"`
}

// DefaultConfig returns default navigation guard configuration
func DefaultConfig() Config {
	return Config{
		MaxUnsavedAge:     30 * time.Minute,
		AutoSaveOnConfirm: true,
	}
}

// Guard intercepts unload, back/forward and in-app route changes and
// decides whether to block, warn or silently allow them
type Guard struct {
	mu           sync.Mutex
	config       Config
	confirmer    Confirmer
	autoSaver    AutoSaver
	unsavedSince time.Time
	hasUnsaved   bool
	promptArmed  bool
	revertedPops int
}

// New creates a navigation guard
func New(config Config) *Guard {
	return &Guard{config: config}
}

// SetConfirmer installs the user confirmation callback
func (g *Guard) SetConfirmer(c Confirmer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.confirmer = c
}

// SetAutoSaver installs the pre-navigation save hook
func (g *Guard) SetAutoSaver(s AutoSaver) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.autoSaver = s
}

// MarkUnsavedChanges opens the unsaved window, stamping its start time
// on the first change
func (g *Guard) MarkUnsavedChanges() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasUnsaved {
		g.unsavedSince = time.Now()
	}
	g.hasUnsaved = true
}

// ClearUnsavedChanges closes the unsaved window
func (g *Guard) ClearUnsavedChanges() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hasUnsaved = false
	g.promptArmed = false
	g.unsavedSince = time.Time{}
}

// HasUnsavedChanges reports whether the unsaved window is open
func (g *Guard) HasUnsavedChanges() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.hasUnsaved
}

// CanNavigate reports whether navigation to the target may proceed
// without asking the user: no unsaved changes, an abandoned unsaved
// window, or a safe destination.
func (g *Guard) CanNavigate(target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasUnsaved {
		return true
	}
	if g.config.MaxUnsavedAge > 0 && time.Since(g.unsavedSince) > g.config.MaxUnsavedAge {
		return true
	}
	return g.matchesSafePattern(target)
}

// matchesSafePattern checks the target against configured safe
// destinations; caller holds the lock
func (g *Guard) matchesSafePattern(target string) bool {
	for _, pattern := range g.config.SafePatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(target, pattern) {
			return true
		}
	}
	return false
}

// RequestNavigationPermission resolves whether a blocked navigation
// may proceed, asking the user through the confirmer. A confirmed
// navigation optionally auto-saves first. Without a confirmer the
// navigation stays blocked; confirmer-less embedders call
// ResolveNavigation with the answer from their own dialog.
func (g *Guard) RequestNavigationPermission(target string) bool {
	if g.CanNavigate(target) {
		return true
	}

	g.mu.Lock()
	confirmer := g.confirmer
	autoSaver := g.autoSaver
	autoSave := g.config.AutoSaveOnConfirm
	g.mu.Unlock()

	if confirmer == nil {
		return false
	}
	if !confirmer.ConfirmNavigation(target) {
		return false
	}

	g.allowConfirmed(target, autoSaver, autoSave)
	return true
}

// ResolveNavigation resolves a blocked navigation with an explicit
// user answer, for callers that ran their own confirmation dialog
func (g *Guard) ResolveNavigation(target string, confirmed bool) bool {
	if g.CanNavigate(target) {
		return true
	}
	if !confirmed {
		return false
	}

	g.mu.Lock()
	autoSaver := g.autoSaver
	autoSave := g.config.AutoSaveOnConfirm
	g.mu.Unlock()

	g.allowConfirmed(target, autoSaver, autoSave)
	return true
}

// allowConfirmed runs the optional pre-navigation save and closes the
// unsaved window
func (g *Guard) allowConfirmed(target string, autoSaver AutoSaver, autoSave bool) {
	if autoSave && autoSaver != nil {
		if !autoSaver.SaveBeforeNavigation() {
			log.Printf("navguard: auto-save before navigation to %s failed", target)
		}
	}

	g.ClearUnsavedChanges()
}

// HandleUnloadAttempt is called on unload intent. It returns true when
// the browser-native confirmation prompt should be armed.
func (g *Guard) HandleUnloadAttempt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasUnsaved {
		return false
	}
	if g.config.MaxUnsavedAge > 0 && time.Since(g.unsavedSince) > g.config.MaxUnsavedAge {
		return false
	}
	g.promptArmed = true
	return true
}

// HandlePopState is called on browser back/forward. It returns true
// when the navigation must be reverted (history entry re-pushed)
// because unsaved changes exist and the user did not confirm.
func (g *Guard) HandlePopState(target string) bool {
	if g.CanNavigate(target) {
		return false
	}
	if g.RequestNavigationPermission(target) {
		return false
	}

	g.mu.Lock()
	g.revertedPops++
	g.mu.Unlock()
	return true
}

// ResolvePopState is HandlePopState's explicit-answer variant for
// confirmer-less embedders; a reverted navigation is counted the same
// way
func (g *Guard) ResolvePopState(target string, confirmed bool) bool {
	if g.ResolveNavigation(target, confirmed) {
		return false
	}

	g.mu.Lock()
	g.revertedPops++
	g.mu.Unlock()
	return true
}

// HandleRouteChange gates an in-app route transition; the router
// proceeds only on true
func (g *Guard) HandleRouteChange(target string) bool {
	return g.RequestNavigationPermission(target)
}

// RevertedPopCount returns how many back/forward navigations were
// reverted, for diagnostics
func (g *Guard) RevertedPopCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.revertedPops
}
