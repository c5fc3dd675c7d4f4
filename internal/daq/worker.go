package daq

import (
	"context"
	"fmt"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

const (
	defaultStablePoll = 50 * time.Millisecond
	defaultCyclePause = 25 * time.Millisecond

	// RestoreScopeMode can legitimately spend tens of seconds in readback
	// waits, and it must get a chance to finish even when the run context is
	// already cancelled.
	restoreTimeout = 60 * time.Second
)

// WorkerConfig drives one cavity's collection run.
type WorkerConfig struct {
	Cavity  CavityConfig
	MetaPVs []string

	// Duration bounds the whole run for this cavity.
	Duration time.Duration

	// Polling knobs; zero selects the defaults.
	StablePoll      time.Duration
	CyclePause      time.Duration
	SnapshotTimeout time.Duration
	SnapshotPoll    time.Duration
}

// Worker cycles one cavity through configure / wait-stable / collect /
// persist until its duration elapses or the run context is cancelled. All
// outcomes land in its RunStats; Run itself never fails.
type Worker struct {
	cfg    WorkerConfig
	client ports.Client
	sink   ports.Sink
	obs    ports.Observability
	stats  domain.RunStats
}

func NewWorker(cfg WorkerConfig, client ports.Client, sink ports.Sink, obs ports.Observability) *Worker {
	if cfg.StablePoll <= 0 {
		cfg.StablePoll = defaultStablePoll
	}
	if cfg.CyclePause <= 0 {
		cfg.CyclePause = defaultCyclePause
	}
	return &Worker{
		cfg:    cfg,
		client: client,
		sink:   sink,
		obs:    obs,
		stats:  domain.RunStats{Cavity: cfg.Cavity.Name},
	}
}

// Stats is only meaningful after Run has returned.
func (w *Worker) Stats() *domain.RunStats { return &w.stats }

// Run executes the collection loop. Watcher construction and the initial
// scope setup are the only failures that end the run early; everything inside
// a cycle is recorded and retried next cycle.
func (w *Worker) Run(ctx context.Context) {
	cavity, err := NewCavity(ctx, w.client, w.cfg.Cavity, w.obs)
	if err != nil {
		w.record(err)
		return
	}

	meta, err := w.bindMeta(ctx)
	if err != nil {
		w.record(err)
		return
	}

	// The scope goes back to its pre-run configuration exactly once, no
	// matter how the run ends. A fresh context so cancellation cannot skip
	// the restore.
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		if err := cavity.RestoreScopeMode(rctx); err != nil {
			w.record(err)
		}
	}()

	if err := cavity.EnsureScopeMode(ctx, domain.ScopeModePeriodic); err != nil {
		w.record(err)
		return
	}

	interval, err := cavity.CurrentSampleInterval(ctx)
	if err != nil {
		w.record(err)
		return
	}

	deadline := time.Now().Add(w.cfg.Duration)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if err := w.cycle(ctx, cavity, meta, interval, deadline); err != nil {
			w.record(err)
		}
		// Brief pause between cycles so a persistently failing cavity does
		// not busy-spin.
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.CyclePause):
		}
	}
}

func (w *Worker) cycle(ctx context.Context, cavity *Cavity, meta []ports.Variable, interval float64, deadline time.Time) error {
	// Recheck the scope configuration before every download; long runs see
	// external reconfiguration.
	if err := cavity.EnsureScopeMode(ctx, domain.ScopeModePeriodic); err != nil {
		return err
	}

	// Wait for a stable operating point. Slow stabilization is not an error:
	// the cycle just ends without counting an attempt.
	for {
		ok, err := cavity.StateValid(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil
		}
		time.Sleep(w.cfg.StablePoll)
	}

	// Count the attempt before any risk is taken so a failure mid-cycle is
	// visible as an attempt without a matching success.
	w.stats.Attempts++
	w.obs.IncCounter("rfwdaq_attempts_total", 1)

	waitStart := time.Now()
	values, start, end, err := cavity.GetWaveforms(ctx, w.cfg.SnapshotTimeout, w.cfg.SnapshotPoll)
	if err != nil {
		return err
	}
	w.obs.ObserveLatency("rfwdaq_snapshot_wait_seconds", time.Since(waitStart).Seconds())

	floatMeta, stringMeta, err := w.metaData(ctx, meta)
	if err != nil {
		return err
	}

	snap := &domain.Snapshot{
		Cavity:         w.cfg.Cavity.Name,
		Start:          start,
		End:            end,
		SampleInterval: interval,
		Channels:       values,
		FloatMeta:      floatMeta,
		StringMeta:     stringMeta,
	}
	if err := w.sink.Write(ctx, snap); err != nil {
		return cycleErr(KindPersistence, w.cfg.Cavity.Name, "%s sink: %w", w.sink.Name(), err)
	}

	w.stats.Successes++
	w.obs.IncCounter("rfwdaq_snapshots_total", 1)
	return nil
}

func (w *Worker) bindMeta(ctx context.Context) ([]ports.Variable, error) {
	meta := make([]ports.Variable, 0, len(w.cfg.MetaPVs))
	for _, name := range w.cfg.MetaPVs {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		v, err := w.client.Connect(cctx, name)
		cancel()
		if err != nil {
			return nil, cycleErr(KindConnection, w.cfg.Cavity.Name, "could not connect to metadata PV %q: %w", name, err)
		}
		meta = append(meta, v)
	}
	return meta, nil
}

// metaData reads the contextual machine-state PVs and buckets them by the
// dynamic type the client reported.
func (w *Worker) metaData(ctx context.Context, meta []ports.Variable) (map[string]float64, map[string]string, error) {
	floats := make(map[string]float64)
	strs := make(map[string]string)
	for _, v := range meta {
		raw, err := v.Get(ctx)
		if err != nil {
			return nil, nil, cycleErr(KindConnectionLost, w.cfg.Cavity.Name, "read metadata %s: %w", v.Name(), err)
		}
		if f, ok := toFloat(raw); ok {
			floats[v.Name()] = f
		} else {
			strs[v.Name()] = fmt.Sprint(raw)
		}
	}
	return floats, strs, nil
}

func (w *Worker) record(err error) {
	w.stats.Errors = append(w.stats.Errors, err)
	w.obs.RecordFailure(w.cfg.Cavity.Name, string(KindOf(err)))
	w.obs.LogError("collection cycle failed", err, ports.Field{Key: "cavity", Value: w.cfg.Cavity.Name})
}
