// internal/timeline/snapshot.go
package timeline

import "encoding/json"

// ClipType identifies the media kind of a clip
type ClipType string

const (
	ClipVideo ClipType = "video"
	ClipAudio ClipType = "audio"
	ClipText  ClipType = "text"
	ClipImage ClipType = "image"
)

// LayerType identifies the media kind of a layer
type LayerType string

const (
	LayerVideo   LayerType = "video"
	LayerAudio   LayerType = "audio"
	LayerText    LayerType = "text"
	LayerOverlay LayerType = "overlay"
)

// Position is a 2D coordinate for clip placement
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClipProperties holds the visual transform of a clip
type ClipProperties struct {
	Opacity  float64  `json:"opacity"`
	Scale    float64  `json:"scale"`
	Position Position `json:"position"`
	Rotation float64  `json:"rotation"`
}

// DefaultClipProperties returns the neutral transform
func DefaultClipProperties() ClipProperties {
	return ClipProperties{Opacity: 1.0, Scale: 1.0}
}

// Keyframe is a single animated property value at a point in time
type Keyframe struct {
	ID       string      `json:"id"`
	Time     float64     `json:"time"`
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
	Easing   string      `json:"easing,omitempty"`
}

// Clip is one placed piece of media on a layer
type Clip struct {
	ID         string         `json:"id"`
	Type       ClipType       `json:"type"`
	StartTime  float64        `json:"start_time"`
	EndTime    float64        `json:"end_time"`
	Duration   float64        `json:"duration"`
	SourcePath string         `json:"source_path,omitempty"`
	Content    string         `json:"content,omitempty"`
	Properties ClipProperties `json:"properties"`
	Keyframes  []Keyframe     `json:"keyframes,omitempty"`
}

// Layer is an ordered track of clips
type Layer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      LayerType `json:"type"`
	Clips     []Clip    `json:"clips"`
	IsVisible bool      `json:"is_visible"`
	IsLocked  bool      `json:"is_locked"`
	IsMuted   bool      `json:"is_muted"`
	Order     int       `json:"order"`
}

// Marker is a labeled point on the timeline ruler
type Marker struct {
	ID    string  `json:"id"`
	Time  float64 `json:"time"`
	Label string  `json:"label"`
	Color string  `json:"color,omitempty"`
}

// Snapshot is the full editable document state of one project.
// Revision increases on every mutation through ApplyPartial so change
// detection can short-circuit without a deep comparison.
type Snapshot struct {
	Layers        []Layer  `json:"layers"`
	PlayheadTime  float64  `json:"playhead_time"`
	Zoom          float64  `json:"zoom"`
	Duration      float64  `json:"duration"`
	Markers       []Marker `json:"markers"`
	SelectedClips []string `json:"selected_clips"`
	IsPlaying     bool     `json:"is_playing"`
	IsSnapping    bool     `json:"is_snapping"`
	Revision      uint64   `json:"revision"`
}

// NewSnapshot returns an empty timeline in its default state
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Layers:        []Layer{},
		Zoom:          1.0,
		Markers:       []Marker{},
		SelectedClips: []string{},
		IsSnapping:    true,
	}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := *s
	out.Layers = make([]Layer, len(s.Layers))
	for i, layer := range s.Layers {
		out.Layers[i] = layer
		out.Layers[i].Clips = make([]Clip, len(layer.Clips))
		for j, clip := range layer.Clips {
			out.Layers[i].Clips[j] = clip
			if len(clip.Keyframes) > 0 {
				out.Layers[i].Clips[j].Keyframes = append([]Keyframe(nil), clip.Keyframes...)
			}
		}
	}
	out.Markers = append([]Marker(nil), s.Markers...)
	out.SelectedClips = append([]string(nil), s.SelectedClips...)
	return &out
}

// Partial is a sparse update applied to a snapshot. Nil fields are
// left untouched.
type Partial struct {
	Layers        *[]Layer  `json:"layers,omitempty"`
	PlayheadTime  *float64  `json:"playhead_time,omitempty"`
	Zoom          *float64  `json:"zoom,omitempty"`
	Duration      *float64  `json:"duration,omitempty"`
	Markers       *[]Marker `json:"markers,omitempty"`
	SelectedClips *[]string `json:"selected_clips,omitempty"`
	IsPlaying     *bool     `json:"is_playing,omitempty"`
	IsSnapping    *bool     `json:"is_snapping,omitempty"`
}

// ApplyPartial merges a sparse update into the snapshot and bumps the
// revision counter
func (s *Snapshot) ApplyPartial(p Partial) {
	if p.Layers != nil {
		s.Layers = *p.Layers
	}
	if p.PlayheadTime != nil {
		s.PlayheadTime = *p.PlayheadTime
	}
	if p.Zoom != nil {
		s.Zoom = *p.Zoom
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Markers != nil {
		s.Markers = *p.Markers
	}
	if p.SelectedClips != nil {
		s.SelectedClips = *p.SelectedClips
	}
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.IsSnapping != nil {
		s.IsSnapping = *p.IsSnapping
	}
	s.Revision++
}

// CountClips returns the total number of clips across all layers
func (s *Snapshot) CountClips() int {
	total := 0
	for _, layer := range s.Layers {
		total += len(layer.Clips)
	}
	return total
}

// SerializedSize returns the JSON byte length of the snapshot, used
// for rough memory accounting
func (s *Snapshot) SerializedSize() int {
	data, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return len(data)
}
