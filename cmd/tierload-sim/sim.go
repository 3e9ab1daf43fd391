package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tomasbasham/tierload"
	"github.com/tomasbasham/tierload/loader"
)

// simKey identifies a simulated record. The priority it was requested at
// travels with the key so a flush can be attributed to its tier.
type simKey struct {
	Priority tierload.Priority
	ID       int
}

// Flush is one tier batch as seen by the batch function.
type Flush struct {
	Priority tierload.Priority
	Size     int
}

// TierStats aggregates the flushes of one tier.
type TierStats struct {
	Flushes  int
	Keys     int
	MaxBatch int
}

// Report is the outcome of a simulation.
type Report struct {
	Loads   int
	Flushes []Flush
	Tiers   map[tierload.Priority]*TierStats
	Elapsed time.Duration
}

// Simulate runs cfg.Loads loads spread over cfg.Workers goroutines and
// random tiers, waiting for every load to resolve.
func Simulate(ctx context.Context, cfg Config, logger logrus.FieldLogger, hook tierload.MetricsHook) (*Report, error) {
	report := &Report{Tiers: make(map[tierload.Priority]*TierStats)}

	var mu sync.Mutex
	batchFn := func(_ context.Context, keys []simKey) []loader.Result[string] {
		p := keys[0].Priority.Normalize(cfg.MaxPriority)

		mu.Lock()
		report.Flushes = append(report.Flushes, Flush{Priority: p, Size: len(keys)})
		stats, ok := report.Tiers[p]
		if !ok {
			stats = &TierStats{}
			report.Tiers[p] = stats
		}
		stats.Flushes++
		stats.Keys += len(keys)
		stats.MaxBatch = max(stats.MaxBatch, len(keys))
		mu.Unlock()

		results := make([]loader.Result[string], len(keys))
		for i, k := range keys {
			results[i] = loader.Result[string]{Value: k.value()}
		}
		return results
	}

	opts := []tierload.Option[simKey, string]{
		tierload.WithMaxPriority[simKey, string](cfg.MaxPriority),
		tierload.WithExecutor[simKey, string](tierload.TimerExecutor(cfg.Window)),
		tierload.WithLogger[simKey, string](logger),
	}
	if hook != nil {
		opts = append(opts, tierload.WithMetricsHook[simKey, string](hook))
	}
	if cfg.MaxBatchSize > 0 {
		opts = append(opts, tierload.WithLoaderOptions(loader.WithMaxBatchSize[simKey, string](cfg.MaxBatchSize)))
	}
	s := tierload.New(batchFn, opts...)

	priorities := cfg.priorities()
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		n := cfg.Loads / cfg.Workers
		if w < cfg.Loads%cfg.Workers {
			n++
		}
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(w)))

		g.Go(func() error {
			for range n {
				if err := ctx.Err(); err != nil {
					return err
				}

				key := simKey{
					Priority: priorities[rng.IntN(len(priorities))],
					ID:       rng.IntN(cfg.Keys),
				}
				tier, err := s.Tier(key.Priority)
				if err != nil {
					return err
				}

				got, err := tier.Load(ctx, key)()
				if err != nil {
					return fmt.Errorf("load %v: %w", key, err)
				}
				if got != key.value() {
					return fmt.Errorf("load %v: got %q", key, got)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Loads = cfg.Loads
	report.Elapsed = time.Since(start)

	logger.WithFields(logrus.Fields{
		"loads":   report.Loads,
		"flushes": len(report.Flushes),
		"tiers":   len(report.Tiers),
	}).Info("simulation complete")

	return report, nil
}

func (k simKey) value() string {
	return fmt.Sprintf("record-%d@%d", k.ID, k.Priority)
}

// Print writes the flush order and per-tier statistics to w.
func (r *Report) Print(w io.Writer, maxOrder int) error {
	fmt.Fprintf(w, "loads=%d flushes=%d elapsed=%s\n", r.Loads, len(r.Flushes), r.Elapsed)

	fmt.Fprint(w, "flush order:")
	for i, f := range r.Flushes {
		if i == maxOrder {
			fmt.Fprintf(w, " ... (%d more)", len(r.Flushes)-maxOrder)
			break
		}
		fmt.Fprintf(w, " %d(%d)", f.Priority, f.Size)
	}
	fmt.Fprintln(w)

	priorities := make([]tierload.Priority, 0, len(r.Tiers))
	for p := range r.Tiers {
		priorities = append(priorities, p)
	}
	slices.Sort(priorities)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tFLUSHES\tKEYS\tMAX BATCH")
	for _, p := range priorities {
		st := r.Tiers[p]
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", p, st.Flushes, st.Keys, st.MaxBatch)
	}
	return tw.Flush()
}
