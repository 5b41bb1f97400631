// Package debug carries intermediate artifacts of the alignment pipeline to
// an optional consumer. Stages call Emit with a nil-able Sink, so nothing is
// recorded unless a caller asks for it.
package debug

import (
	"image"
	"image/color"
	"sync"

	"stackdiff/internal/models"
)

// Sink receives named intermediate artifacts. Artifacts are *models.Grid,
// *models.DifferenceMap, image.Image or any value that can be marshalled as
// YAML. Implementations must be safe for concurrent use.
type Sink interface {
	Put(stage string, artifact any)
}

// Emit forwards artifact to sink when sink is non-nil.
func Emit(sink Sink, stage string, artifact any) {
	if sink == nil {
		return
	}
	sink.Put(stage, artifact)
}

// Scoper is implemented by sinks that can keep the artifacts of one item
// apart from those of others, for example one directory per image pair.
type Scoper interface {
	Scope(name string) Sink
}

// Scope returns a sink for the artifacts of the item called name. Sinks
// that do not implement Scoper get their stage names prefixed with
// "name/". A nil sink stays nil.
func Scope(sink Sink, name string) Sink {
	if sink == nil {
		return nil
	}
	if s, ok := sink.(Scoper); ok {
		return s.Scope(name)
	}
	return prefixSink{sink: sink, prefix: name + "/"}
}

type prefixSink struct {
	sink   Sink
	prefix string
}

func (p prefixSink) Put(stage string, artifact any) {
	p.sink.Put(p.prefix+stage, artifact)
}

// MemorySink keeps every artifact in memory, keyed by stage name.
type MemorySink struct {
	mu        sync.Mutex
	artifacts map[string]any
	order     []string
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{artifacts: make(map[string]any)}
}

// Put records artifact, replacing an earlier one with the same stage name.
func (m *MemorySink) Put(stage string, artifact any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[stage]; !ok {
		m.order = append(m.order, stage)
	}
	m.artifacts[stage] = artifact
}

// Get returns the artifact recorded for stage.
func (m *MemorySink) Get(stage string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[stage]
	return a, ok
}

// Stages lists stage names in the order they were first recorded.
func (m *MemorySink) Stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Overlay renders g as an 8-bit image and draws each rectangle outline in
// white with a 2 pixel stroke. g is not modified.
func Overlay(g *models.Grid, rects ...image.Rectangle) *image.Gray {
	img := g.Gray()
	white := color.Gray{Y: 255}
	const thickness = 2

	for _, r := range rects {
		r = r.Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		for i := 0; i < thickness; i++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, r.Min.Y+i, white)
				img.SetGray(x, r.Max.Y-1-i, white)
			}
			for y := r.Min.Y; y < r.Max.Y; y++ {
				img.SetGray(r.Min.X+i, y, white)
				img.SetGray(r.Max.X-1-i, y, white)
			}
		}
	}
	return img
}
