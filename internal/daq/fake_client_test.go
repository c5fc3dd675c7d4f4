package daq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// fakeVar is an in-memory PV for tests. Put records every write and, through
// putHook, lets tests model hardware readback behavior.
type fakeVar struct {
	name string

	mu         sync.Mutex
	connected  bool
	value      any
	lastUpdate time.Time
	onUpdate   func(ports.Update)
	onConn     func(bool)
	puts       []putRecord
	putHook    func(v *fakeVar, value any)
	getErr     error
}

type putRecord struct {
	value any
	wait  bool
}

func (v *fakeVar) Name() string { return v.name }

func (v *fakeVar) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *fakeVar) LastUpdate() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUpdate
}

func (v *fakeVar) Get(context.Context) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.getErr != nil {
		return nil, v.getErr
	}
	if v.value == nil {
		return nil, fmt.Errorf("no value for %s", v.name)
	}
	return v.value, nil
}

func (v *fakeVar) Put(_ context.Context, value any, wait bool) error {
	v.mu.Lock()
	v.puts = append(v.puts, putRecord{value: value, wait: wait})
	hook := v.putHook
	v.mu.Unlock()

	if hook != nil {
		hook(v, value)
	} else {
		v.set(value)
	}
	return nil
}

func (v *fakeVar) Subscribe(onUpdate func(ports.Update), onConn func(bool)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onUpdate = onUpdate
	v.onConn = onConn
	return nil
}

// set updates the readback value without firing callbacks.
func (v *fakeVar) set(value any) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
}

func (v *fakeVar) setConnected(conn bool) {
	v.mu.Lock()
	v.connected = conn
	cb := v.onConn
	v.mu.Unlock()
	if cb != nil {
		cb(conn)
	}
}

// push delivers a timestamped value change the way a real client's dispatch
// goroutine would.
func (v *fakeVar) push(value any, ts time.Time) {
	v.mu.Lock()
	v.value = value
	v.lastUpdate = ts
	cb := v.onUpdate
	v.mu.Unlock()
	if cb != nil {
		cb(ports.Update{Value: value, Timestamp: ts})
	}
}

func (v *fakeVar) putValues() []any {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]any, len(v.puts))
	for i, p := range v.puts {
		out[i] = p.value
	}
	return out
}

// fakeClient hands out fakeVars by name. Values preset before Connect survive
// binding, so tests can describe the machine state up front.
type fakeClient struct {
	mu         sync.Mutex
	vars       map[string]*fakeVar
	connectErr map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		vars:       make(map[string]*fakeVar),
		connectErr: make(map[string]error),
	}
}

func (c *fakeClient) Connect(_ context.Context, name string) (ports.Variable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectErr[name]; err != nil {
		return nil, err
	}
	return c.lookupLocked(name), nil
}

func (c *fakeClient) Close(context.Context) error { return nil }

func (c *fakeClient) lookup(name string) *fakeVar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(name)
}

func (c *fakeClient) lookupLocked(name string) *fakeVar {
	v, ok := c.vars[name]
	if !ok {
		v = &fakeVar{name: name, connected: true}
		c.vars[name] = v
	}
	return v
}

func (c *fakeClient) preset(name string, value any) *fakeVar {
	v := c.lookup(name)
	v.set(value)
	return v
}

func (c *fakeClient) failConnect(name string, err error) {
	c.mu.Lock()
	c.connectErr[name] = err
	c.mu.Unlock()
}

// presetStableCavity loads the client with a cavity at a valid operating
// point whose scope already carries the desired periodic configuration.
func presetStableCavity(c *fakeClient, cavity string) {
	c.preset(cavity+pvRFOn, 1.0)
	c.preset(cavity+pvStat1, 0.0)
	c.preset(cavity+pvControlMode, 4.0)
	c.preset(cavity+pvScopeRun, 3.0)
	c.preset(cavity+pvSampleInterval, 0.2)
	c.preset(cavity+pvTriggerDelay, 102.4)
	c.preset(cavity+pvPeriodicDelay, 0.1)
	c.preset(cavity+pvDebug, 1.0)
	c.preset(cavity+pvSeqStep, 0.0)
	c.preset(cavity+pvHarvStart, "2026-08-25 10:23:45.012345")
	c.preset(cavity+pvHarvEnd, "2026-08-25 10:23:45.254345")
	c.preset("R2XXITOT", 50.0)

	// The stop request reads back as 0 once the hardware settles; any other
	// mode write reads back as written.
	scopeRun := c.lookup(cavity + pvScopeRun)
	scopeRun.putHook = func(v *fakeVar, value any) {
		if f, ok := value.(float64); ok && f == domain.ScopeModeStop {
			v.set(0.0)
			return
		}
		v.set(value)
	}
}

func testCavityConfig(cavity string) CavityConfig {
	return CavityConfig{
		Name:           cavity,
		Channels:       []string{"WFSGMES", "WFSPMES"},
		BeamCurrentPV:  "R2XXITOT",
		MinBeamCurrent: 0.5,
	}
}

// runSequencerCycle drives one full hardware acquisition cycle: setup,
// transfer, channel updates inside the window, finalize.
func runSequencerCycle(c *fakeClient, cavity string, waveform []float64) {
	now := time.Now()
	seq := c.lookup(cavity + pvSeqStep)
	seq.push(float64(seqSetup), now)
	seq.push(float64(seqTransfer), now)
	for _, suffix := range []string{"WFSGMES", "WFSPMES"} {
		c.lookup(cavity + suffix).push(waveform, now.Add(500*time.Microsecond))
	}
	seq.push(float64(seqFinalize), now.Add(time.Millisecond))
}

// testObs satisfies ports.Observability and records failure tallies.
type testObs struct {
	mu       sync.Mutex
	failures []string
}

func (o *testObs) LogInfo(string, ...ports.Field)            {}
func (o *testObs) LogError(string, error, ...ports.Field)    {}
func (o *testObs) LogCritical(string, error, ...ports.Field) {}
func (o *testObs) IncCounter(string, float64)                {}
func (o *testObs) SetGauge(string, float64)                  {}
func (o *testObs) ObserveLatency(string, float64)            {}

func (o *testObs) RecordFailure(cavity, kind string) {
	o.mu.Lock()
	o.failures = append(o.failures, cavity+"/"+kind)
	o.mu.Unlock()
}

func (o *testObs) recorded() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.failures...)
}

var _ ports.Client = (*fakeClient)(nil)
var _ ports.Variable = (*fakeVar)(nil)
var _ ports.Observability = (*testObs)(nil)
