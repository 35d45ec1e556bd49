// internal/history/manager.go
package history

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"reelhist/internal/timeline"
)

// Config holds action history configuration
type Config struct {
	MaxSize            int  `json:"max_size"`
	CompressionEnabled bool `json:"compression_enabled"`
	CompressionLevel   int  `json:"compression_level"`
}

// DefaultConfig returns default action history configuration
func DefaultConfig() Config {
	return Config{
		MaxSize:            100,
		CompressionEnabled: true,
		CompressionLevel:   3,
	}
}

// Item is one recorded edit action. Immutable once created.
type Item struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	State       []byte                 `json:"state,omitempty"`
	Compressed  bool                   `json:"compressed"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Stats summarizes the current log contents
type Stats struct {
	Count       int            `json:"count"`
	MemoryBytes int            `json:"memory_bytes"`
	Oldest      time.Time      `json:"oldest,omitempty"`
	Newest      time.Time      `json:"newest,omitempty"`
	ByType      map[string]int `json:"by_type"`
}

// Manager is the per-project, size-bounded action log. Oldest entries
// are evicted once the cap is reached.
type Manager struct {
	mu        sync.RWMutex
	projectID string
	config    Config
	items     []Item
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewManager creates an action history manager for one project
func NewManager(projectID string, config Config) *Manager {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.CompressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &Manager{
		projectID: projectID,
		config:    config,
		items:     []Item{},
		encoder:   encoder,
		decoder:   decoder,
	}
}

// ProjectID returns the owning project id
func (m *Manager) ProjectID() string {
	return m.projectID
}

// AddAction appends a new action to the log, evicting the oldest entry
// if the log is at capacity. It always succeeds.
func (m *Manager) AddAction(actionType, description string, state *timeline.Snapshot, metadata map[string]interface{}) Item {
	item := Item{
		ID:          uuid.New().String(),
		Type:        actionType,
		Description: description,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}

	if state != nil {
		item.State, item.Compressed = m.encodeState(state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, item)
	if m.config.MaxSize > 0 && len(m.items) > m.config.MaxSize {
		m.items = m.items[len(m.items)-m.config.MaxSize:]
	}

	return item
}

// encodeState serializes a state fragment for storage. When compression
// is enabled only replay-irrelevant-but-diagnostic fields survive:
// layer and clip geometry plus the content reference. Serialization
// failures fall back to the raw snapshot rather than failing the action.
func (m *Manager) encodeState(state *timeline.Snapshot) ([]byte, bool) {
	if !m.config.CompressionEnabled {
		data, err := json.Marshal(state)
		if err != nil {
			log.Printf("history: serialize state for %s failed: %v", m.projectID, err)
			return nil, false
		}
		return data, false
	}

	fragment := compressFragment(state)
	data, err := json.Marshal(fragment)
	if err != nil {
		// Fall back to the uncompressed form
		if raw, rawErr := json.Marshal(state); rawErr == nil {
			return raw, false
		}
		log.Printf("history: serialize state for %s failed: %v", m.projectID, err)
		return nil, false
	}

	return m.encoder.EncodeAll(data, nil), true
}

// DecodeState returns the stored state fragment of an item as JSON
func (m *Manager) DecodeState(item Item) ([]byte, bool) {
	if len(item.State) == 0 {
		return nil, false
	}
	if !item.Compressed {
		return item.State, true
	}

	data, err := m.decoder.DecodeAll(item.State, nil)
	if err != nil {
		log.Printf("history: decompress state of action %s failed: %v", item.ID, err)
		return nil, false
	}
	return data, true
}

// AppendItem appends a previously recorded item, preserving its id and
// timestamp. Used when replaying a recovery blob.
func (m *Manager) AppendItem(item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, item)
	if m.config.MaxSize > 0 && len(m.items) > m.config.MaxSize {
		m.items = m.items[len(m.items)-m.config.MaxSize:]
	}
}

// AllActions returns every item in insertion order
func (m *Manager) AllActions() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Item(nil), m.items...)
}

// ActionsByType returns all items of the given type in insertion order
func (m *Manager) ActionsByType(actionType string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Item
	for _, item := range m.items {
		if item.Type == actionType {
			out = append(out, item)
		}
	}
	return out
}

// ActionsInRange returns all items with a timestamp in [t0, t1]
func (m *Manager) ActionsInRange(t0, t1 time.Time) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Item
	for _, item := range m.items {
		if !item.Timestamp.Before(t0) && !item.Timestamp.After(t1) {
			out = append(out, item)
		}
	}
	return out
}

// SearchActions returns items whose type or description contains the
// query, case-insensitive
func (m *Manager) SearchActions(query string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []Item
	for _, item := range m.items {
		if strings.Contains(strings.ToLower(item.Type), needle) ||
			strings.Contains(strings.ToLower(item.Description), needle) {
			out = append(out, item)
		}
	}
	return out
}

// ClearHistory empties the log
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = []Item{}
}

// GetStats returns counts, rough memory footprint and a per-type histogram
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Count:  len(m.items),
		ByType: make(map[string]int),
	}

	for _, item := range m.items {
		stats.MemoryBytes += len(item.State) + len(item.Type) + len(item.Description)
		stats.ByType[item.Type]++
	}

	if len(m.items) > 0 {
		stats.Oldest = m.items[0].Timestamp
		stats.Newest = m.items[len(m.items)-1].Timestamp
	}

	return stats
}

// exportBundle is the serialized form produced by Export
type exportBundle struct {
	ProjectID  string    `json:"project_id"`
	Config     Config    `json:"config"`
	Items      []Item    `json:"items"`
	ExportedAt time.Time `json:"exported_at"`
}

// Export serializes the full log as a self-describing blob
func (m *Manager) Export() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bundle := exportBundle{
		ProjectID:  m.projectID,
		Config:     m.config,
		Items:      m.items,
		ExportedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		log.Printf("history: export for %s failed: %v", m.projectID, err)
		return nil
	}
	return data
}

// Import replaces the log from a blob produced by Export. It fails
// closed when the embedded project id does not match this manager's.
func (m *Manager) Import(blob []byte) bool {
	var bundle exportBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		log.Printf("history: import for %s failed: %v", m.projectID, err)
		return false
	}

	if bundle.ProjectID != m.projectID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items := bundle.Items
	if m.config.MaxSize > 0 && len(items) > m.config.MaxSize {
		items = items[len(items)-m.config.MaxSize:]
	}
	m.items = append([]Item{}, items...)
	return true
}

// compressedLayer retains only the geometry of a layer for diagnostics
type compressedLayer struct {
	ID    string           `json:"id"`
	Order int              `json:"order"`
	Clips []compressedClip `json:"clips"`
}

// compressedClip retains clip geometry and the content reference
type compressedClip struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	SourcePath string  `json:"source_path,omitempty"`
}

// compressedFragment is the reduced state stored per action when
// compression is enabled
type compressedFragment struct {
	Layers       []compressedLayer `json:"layers"`
	PlayheadTime float64           `json:"playhead_time"`
	Duration     float64           `json:"duration"`
	Revision     uint64            `json:"revision"`
}

func compressFragment(state *timeline.Snapshot) compressedFragment {
	fragment := compressedFragment{
		Layers:       make([]compressedLayer, 0, len(state.Layers)),
		PlayheadTime: state.PlayheadTime,
		Duration:     state.Duration,
		Revision:     state.Revision,
	}

	for _, layer := range state.Layers {
		cl := compressedLayer{
			ID:    layer.ID,
			Order: layer.Order,
			Clips: make([]compressedClip, 0, len(layer.Clips)),
		}
		for _, clip := range layer.Clips {
			cl.Clips = append(cl.Clips, compressedClip{
				ID:         clip.ID,
				Type:       string(clip.Type),
				StartTime:  clip.StartTime,
				EndTime:    clip.EndTime,
				Duration:   clip.Duration,
				SourcePath: clip.SourcePath,
			})
		}
		fragment.Layers = append(fragment.Layers, cl)
	}

	return fragment
}
