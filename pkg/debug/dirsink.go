package debug

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"stackdiff/internal/models"
	"stackdiff/pkg/imageio"
)

// DirSink writes every artifact into a directory, numbering files in the
// order they arrive:
//
//	01_normalized_a.png
//	02_normalized_b.png
//	...
//	07_match.yaml
//
// Grids are written as 8-bit PNG (grids with values in [0,1] are stretched
// to [0,255]), difference maps as 16-bit PNG, images as PNG and anything
// else as YAML.
type DirSink struct {
	dir string
	log logr.Logger
	enc *imageio.Encoder

	mu    sync.Mutex
	count int

	// failure is shared with the sinks returned by Scope
	failure *firstError
}

// firstError keeps the first error recorded.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string, log logr.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, xerrors.Errorf("failed to create debug directory: %w", err)
	}
	return &DirSink{
		dir:     dir,
		log:     log,
		enc:     imageio.NewEncoder(imageio.DefaultJPEGQuality),
		failure: &firstError{},
	}, nil
}

// Dir returns the output directory.
func (s *DirSink) Dir() string { return s.dir }

// Put writes artifact to disk. Failures are logged and the first one is
// kept for Err.
func (s *DirSink) Put(stage string, artifact any) {
	s.mu.Lock()
	s.count++
	index := s.count
	s.mu.Unlock()

	if err := s.write(index, stage, artifact); err != nil {
		s.log.Error(err, "Failed to save debug artifact", "stage", stage)
		s.failure.record(err)
	}
}

// Scope returns a sink writing into the subdirectory name, with its own
// numbering. Write failures of the child are reported by the parent's Err.
func (s *DirSink) Scope(name string) Sink {
	return &DirSink{
		dir:     filepath.Join(s.dir, name),
		log:     s.log.WithValues("scope", name),
		enc:     s.enc,
		failure: s.failure,
	}
}

// Err returns the first write failure of this sink or any sink scoped
// from it, if any.
func (s *DirSink) Err() error {
	return s.failure.get()
}

func (s *DirSink) write(index int, stage string, artifact any) error {
	name := fmt.Sprintf("%02d_%s", index, stage)

	switch v := artifact.(type) {
	case *models.DifferenceMap:
		return s.enc.SaveImage(filepath.Join(s.dir, name+".png"), v.Gray16())
	case *models.Grid:
		return s.enc.SaveImage(filepath.Join(s.dir, name+".png"), gridImage(v))
	case image.Image:
		return s.enc.SaveImage(filepath.Join(s.dir, name+".png"), v)
	default:
		data, err := yaml.Marshal(v)
		if err != nil {
			return xerrors.Errorf("failed to marshal %s: %w", stage, err)
		}
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return xerrors.Errorf("failed to create debug directory: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, name+".yaml"), data, 0644); err != nil {
			return xerrors.Errorf("failed to write %s: %w", stage, err)
		}
		return nil
	}
}

func gridImage(g *models.Grid) image.Image {
	lo, hi := g.Range()
	if lo >= 0 && hi <= 1 {
		return g.GrayScaled(0, 1)
	}
	return g.Gray()
}
