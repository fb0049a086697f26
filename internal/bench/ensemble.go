package bench

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbgpu/internal/config"
)

// RunEnsemble benchmarks several named configs concurrently, each on its
// own device context so command streams never interleave across runs.
// Results come back sorted by name; the first failing run cancels the rest.
func RunEnsemble(ctx context.Context, cfgs map[string]*config.Config, parallel int) ([]*Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	var mu sync.Mutex
	results := make([]*Result, 0, len(cfgs))

	for name, cfg := range cfgs {
		name, cfg := name, cfg
		g.Go(func() error {
			r, err := NewRunner()
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := r.Run(ctx, name, cfg, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// RunPresets benchmarks the named presets from the built-in preset table.
func RunPresets(ctx context.Context, names []string, parallel int) ([]*Result, error) {
	cfgs := make(map[string]*config.Config, len(names))
	for _, name := range names {
		cfg := config.GetPreset(name)
		if cfg == nil {
			return nil, fmt.Errorf("bench: unknown preset %q", name)
		}
		cfgs[name] = cfg
	}
	return RunEnsemble(ctx, cfgs, parallel)
}
