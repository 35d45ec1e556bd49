// internal/tracker/diff.go
package tracker

import (
	"encoding/json"
	"fmt"

	"reelhist/internal/timeline"
)

// deepEqual compares two snapshots by serialized form. The revision
// counter handles the common case; this catches out-of-band mutation.
func deepEqual(a, b *timeline.Snapshot) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func marshalRaw(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// diffSnapshots compares two snapshots field by field and returns one
// change per added/removed/updated layer or marker and per changed
// scalar timeline property
func diffSnapshots(prev, current *timeline.Snapshot) []Event {
	var changes []Event

	changes = append(changes, diffLayers(prev.Layers, current.Layers)...)
	changes = append(changes, diffMarkers(prev.Markers, current.Markers)...)
	changes = append(changes, diffScalars(prev, current)...)

	return changes
}

func diffLayers(prev, current []timeline.Layer) []Event {
	prevByID := make(map[string]*timeline.Layer, len(prev))
	for i := range prev {
		prevByID[prev[i].ID] = &prev[i]
	}
	currentByID := make(map[string]*timeline.Layer, len(current))
	for i := range current {
		currentByID[current[i].ID] = &current[i]
	}

	var changes []Event

	for i := range current {
		layer := &current[i]
		before, existed := prevByID[layer.ID]
		if !existed {
			changes = append(changes, Event{
				Type:        ChangeAdd,
				Target:      TargetLayer,
				TargetIDs:   []string{layer.ID},
				Description: fmt.Sprintf("layer %q added", layer.Name),
				AfterState:  marshalRaw(layer),
			})
			continue
		}

		bj := marshalRaw(before)
		aj := marshalRaw(layer)
		if string(bj) != string(aj) {
			changes = append(changes, Event{
				Type:        ChangeUpdate,
				Target:      TargetLayer,
				TargetIDs:   []string{layer.ID},
				Description: fmt.Sprintf("layer %q updated", layer.Name),
				BeforeState: bj,
				AfterState:  aj,
			})
		}
	}

	for i := range prev {
		layer := &prev[i]
		if _, exists := currentByID[layer.ID]; !exists {
			changes = append(changes, Event{
				Type:        ChangeRemove,
				Target:      TargetLayer,
				TargetIDs:   []string{layer.ID},
				Description: fmt.Sprintf("layer %q removed", layer.Name),
				BeforeState: marshalRaw(layer),
			})
		}
	}

	return changes
}

func diffMarkers(prev, current []timeline.Marker) []Event {
	prevByID := make(map[string]timeline.Marker, len(prev))
	for _, m := range prev {
		prevByID[m.ID] = m
	}
	currentByID := make(map[string]timeline.Marker, len(current))
	for _, m := range current {
		currentByID[m.ID] = m
	}

	var changes []Event

	for _, m := range current {
		before, existed := prevByID[m.ID]
		if !existed {
			changes = append(changes, Event{
				Type:        ChangeAdd,
				Target:      TargetMarker,
				TargetIDs:   []string{m.ID},
				Description: fmt.Sprintf("marker %q added", m.Label),
				AfterState:  marshalRaw(m),
			})
			continue
		}
		if before != m {
			changes = append(changes, Event{
				Type:        ChangeUpdate,
				Target:      TargetMarker,
				TargetIDs:   []string{m.ID},
				Description: fmt.Sprintf("marker %q updated", m.Label),
				BeforeState: marshalRaw(before),
				AfterState:  marshalRaw(m),
			})
		}
	}

	for _, m := range prev {
		if _, exists := currentByID[m.ID]; !exists {
			changes = append(changes, Event{
				Type:        ChangeRemove,
				Target:      TargetMarker,
				TargetIDs:   []string{m.ID},
				Description: fmt.Sprintf("marker %q removed", m.Label),
				BeforeState: marshalRaw(m),
			})
		}
	}

	return changes
}

// diffScalars reports one change per modified scalar timeline property
func diffScalars(prev, current *timeline.Snapshot) []Event {
	var changes []Event

	scalar := func(name string, before, after float64) {
		if before != after {
			changes = append(changes, Event{
				Type:        ChangeUpdate,
				Target:      TargetTimeline,
				TargetIDs:   []string{name},
				Description: fmt.Sprintf("timeline %s changed", name),
				BeforeState: marshalRaw(before),
				AfterState:  marshalRaw(after),
			})
		}
	}

	scalar("playhead_time", prev.PlayheadTime, current.PlayheadTime)
	scalar("duration", prev.Duration, current.Duration)
	scalar("zoom", prev.Zoom, current.Zoom)

	return changes
}
