package daq

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// Fleet runs one worker per cavity. Workers are fully independent; a failing
// cavity never disturbs the others.
type Fleet struct {
	workers []*Worker
	obs     ports.Observability
}

func NewFleet(workers []*Worker, obs ports.Observability) *Fleet {
	return &Fleet{workers: workers, obs: obs}
}

// Run spawns the workers, blocks until every one has finished its duration or
// the context is cancelled, and returns their accumulated statistics.
func (f *Fleet) Run(ctx context.Context) []*domain.RunStats {
	f.obs.SetGauge("rfwdaq_workers_active", float64(len(f.workers)))

	g := new(errgroup.Group)
	for _, w := range f.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	// Workers record their own failures; there is nothing to propagate here.
	_ = g.Wait()

	f.obs.SetGauge("rfwdaq_workers_active", 0)

	stats := make([]*domain.RunStats, 0, len(f.workers))
	for _, w := range f.workers {
		stats = append(stats, w.Stats())
	}
	return stats
}
