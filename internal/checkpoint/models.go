// internal/checkpoint/models.go
package checkpoint

import (
	"time"

	"reelhist/internal/timeline"
)

// Checkpoint is a named, persisted full snapshot of a project's state
type Checkpoint struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Description string             `json:"description,omitempty"`
	IsAutoSave  bool               `json:"is_auto_save"`
	State       *timeline.Snapshot `json:"state"`
	Metadata    Metadata           `json:"metadata"`
}

// Metadata records summary counts captured at checkpoint time
type Metadata struct {
	LayerCount  int     `json:"layer_count"`
	ClipCount   int     `json:"clip_count"`
	ActionCount int     `json:"action_count"`
	Duration    float64 `json:"duration"`
}

// Config holds checkpoint configuration
type Config struct {
	MaxCheckpoints   int           `json:"max_checkpoints"`
	AutoSaveInterval time.Duration `json:"auto_save_interval"`
	CompressionLevel int           `json:"compression_level"`
}

// DefaultConfig returns default checkpoint configuration
func DefaultConfig() Config {
	return Config{
		MaxCheckpoints:   50,
		AutoSaveInterval: 2 * time.Minute,
		CompressionLevel: 3,
	}
}

// ExportBundle is the self-describing serialized form of a project's
// checkpoints
type ExportBundle struct {
	ProjectID   string       `json:"project_id"`
	Config      Config       `json:"config"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	ExportedAt  time.Time    `json:"exported_at"`
}
