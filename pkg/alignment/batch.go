package alignment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"stackdiff/pkg/debug"
	"stackdiff/pkg/imageio"
)

const (
	topSuffix    = "_top"
	bottomSuffix = "_bottom"
)

// Pair is a top/bottom image couple found in a batch directory.
type Pair struct {
	// Name is the common prefix, "3" for 3_top.jpg and 3_bottom.jpg
	Name string

	// Top is aligned as image A
	Top string

	// Bottom is aligned as image B
	Bottom string
}

// PairResult reports the outcome of one pair of a batch.
type PairResult struct {
	Pair   Pair
	Result *Result

	// Outputs lists the files written for the pair
	Outputs []string

	// Err is set when the pair failed; other pairs are unaffected
	Err error
}

// FindPairs scans dir for files named <name>_top<ext> and <name>_bottom<ext>
// in a decodable format and returns the complete pairs, sorted by name with
// numeric names in numeric order.
func FindPairs(dir string) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("failed to read batch directory: %w", err)
	}

	byName := make(map[string]*Pair)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		ext := filepath.Ext(file)
		if !decodable(ext) {
			continue
		}
		stem := strings.TrimSuffix(file, ext)

		var name string
		var top bool
		switch {
		case strings.HasSuffix(stem, topSuffix):
			name, top = strings.TrimSuffix(stem, topSuffix), true
		case strings.HasSuffix(stem, bottomSuffix):
			name = strings.TrimSuffix(stem, bottomSuffix)
		default:
			continue
		}
		if name == "" {
			continue
		}

		p, ok := byName[name]
		if !ok {
			p = &Pair{Name: name}
			byName[name] = p
		}
		if top {
			p.Top = filepath.Join(dir, file)
		} else {
			p.Bottom = filepath.Join(dir, file)
		}
	}

	var pairs []Pair
	for _, p := range byName {
		if p.Top != "" && p.Bottom != "" {
			pairs = append(pairs, *p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return lessName(pairs[i].Name, pairs[j].Name)
	})
	return pairs, nil
}

func decodable(ext string) bool {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}

// lessName orders numeric names by value and puts them before other names.
func lessName(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// RunBatch aligns every pair with opts, at most workers pairs at a time,
// and writes <name>_top_aligned<ext>, <name>_bottom_aligned<ext> and
// <name>_diff.png into outDir. A failing pair is reported in its
// PairResult; the returned error is only set when ctx is cancelled.
func RunBatch(ctx context.Context, pairs []Pair, opts Options, outDir string, workers int) ([]PairResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	enc := imageio.NewEncoder(opts.JPEGQuality)

	results := make([]PairResult, len(pairs))
	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			pairOpts := opts
			pairOpts.Debug = debug.Scope(opts.Debug, pair.Name)
			pairOpts.Logger = log.WithValues("pair", pair.Name)

			res := PairResult{Pair: pair}
			res.Result, res.Err = Align(gctx, imageio.PathSource(pair.Top), imageio.PathSource(pair.Bottom), pairOpts)
			if res.Err == nil {
				dir := outDir
				if dir == "" {
					dir = filepath.Dir(pair.Top)
				}
				res.Outputs = []string{
					imageio.OutputPath(pair.Top, "_aligned", dir),
					imageio.OutputPath(pair.Bottom, "_aligned", dir),
					filepath.Join(dir, pair.Name+"_diff.png"),
				}
				res.Err = res.Result.Save(enc, res.Outputs[0], res.Outputs[1], res.Outputs[2])
			}
			if res.Err != nil {
				log.Error(res.Err, "Pair failed", "pair", pair.Name)
			}
			results[i] = res

			mu.Lock()
			completed++
			log.Info("Batch progress", "completed", completed, "total", len(pairs))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, xerrors.Errorf("batch interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, xerrors.Errorf("batch interrupted: %w", err)
	}
	return results, nil
}
