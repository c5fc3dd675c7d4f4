package daq

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// PV suffixes appended to the cavity EPICS name.
const (
	pvRFOn           = "RFONr"     // RF on/off readback
	pvStat1          = "STAT1"     // status word; bit 11 set while ramping gradient
	pvControlMode    = "CNTL2MODE" // RF control mode; 4 or 64 == stable operations
	pvScopeRun       = "WFSCOPrun" // scope run mode; -1 stop request, 0 stopped
	pvSampleInterval = "TRGS1"     // sample interval within a waveform, seconds
	pvTriggerDelay   = "TRGD1"     // waveform collection trigger delay
	pvPeriodicDelay  = "WFSCOPper" // pause during the periodic collection cycle
	pvDebug          = "WFSdebug1" // skips waveform statistics calculations
	pvSeqStep        = "WFSCOPstp" // hardware sequencer step
	pvHarvStart      = "WFSharvTake"
	pvHarvEnd        = "WFSharvDa"
)

// Sequencer steps of interest on WFSCOPstp. Waveform records are in an
// inconsistent state between seqTransfer and seqFinalize.
const (
	seqSetup    = 128 // setup & timing begun; a fresh cycle is underway
	seqTransfer = 256 // FPGA data being transferred into records
	seqFinalize = 512 // statistics begun; records have settled
)

const stat1RampingMask = 0x0800

// Format of the WFSharvTake / WFSharvDa string PVs.
const harvTimeFormat = "2006-01-02 15:04:05.000000"

const (
	connectTimeout         = 2 * time.Second
	stopReadbackTimeout    = 10 * time.Second
	settingReadbackTimeout = 5 * time.Second
	readbackPoll           = 5 * time.Millisecond
	slowDownloadWarn       = 1500 * time.Millisecond

	defaultSnapshotTimeout = 60 * time.Second
	defaultSnapshotPoll    = 10 * time.Millisecond
)

// CavityConfig identifies the unit to watch and which signals to harvest.
type CavityConfig struct {
	// Name is the EPICS cavity name, e.g. "R1M1".
	Name string
	// Channels are PV suffixes of the waveforms to collect ("WFSGMES", ...).
	Channels []string
	// BeamCurrentPV is the machine-wide beam current PV.
	BeamCurrentPV string
	// MinBeamCurrent is the smallest current at which data is meaningful.
	MinBeamCurrent float64
}

// Cavity watches the acquisition sequencer of one cavity and hands out
// validated waveform snapshots. The ready/window state is written only by the
// client's callback dispatch and read by the owning worker, both under mu.
type Cavity struct {
	name string
	cfg  CavityConfig
	obs  ports.Observability

	rfOn        ports.Variable
	stat1       ports.Variable
	controlMode ports.Variable
	beamCurrent ports.Variable

	scopeRun       ports.Variable
	sampleInterval ports.Variable
	triggerDelay   ports.Variable
	periodicDelay  ports.Variable
	debug          ports.Variable

	seqStep   ports.Variable
	harvStart ports.Variable
	harvEnd   ports.Variable

	channels map[string]ports.Variable

	connMu sync.Mutex
	conns  map[string]bool

	mu          sync.Mutex
	primed      bool
	ready       bool
	windowStart time.Time
	windowEnd   time.Time

	original domain.ScopeSettings
}

// NewCavity binds every PV the watcher needs and blocks until all of them
// report connected. The scope configuration found at construction is captured
// so RestoreScopeMode can put it back.
func NewCavity(ctx context.Context, client ports.Client, cfg CavityConfig, obs ports.Observability) (*Cavity, error) {
	c := &Cavity{
		name:     cfg.Name,
		cfg:      cfg,
		obs:      obs,
		channels: make(map[string]ports.Variable, len(cfg.Channels)),
		conns:    make(map[string]bool),
	}

	status := []struct {
		dst  *ports.Variable
		name string
	}{
		{&c.rfOn, cfg.Name + pvRFOn},
		{&c.stat1, cfg.Name + pvStat1},
		{&c.controlMode, cfg.Name + pvControlMode},
		{&c.scopeRun, cfg.Name + pvScopeRun},
		{&c.sampleInterval, cfg.Name + pvSampleInterval},
		{&c.triggerDelay, cfg.Name + pvTriggerDelay},
		{&c.periodicDelay, cfg.Name + pvPeriodicDelay},
		{&c.debug, cfg.Name + pvDebug},
		{&c.harvStart, cfg.Name + pvHarvStart},
		{&c.harvEnd, cfg.Name + pvHarvEnd},
		{&c.beamCurrent, cfg.BeamCurrentPV},
	}
	for _, s := range status {
		v, err := c.bind(ctx, client, s.name, nil)
		if err != nil {
			return nil, err
		}
		*s.dst = v
	}

	// The sequencer PV is the only one that gets a value callback. Everything
	// downstream keys off its transitions.
	seq, err := c.bind(ctx, client, cfg.Name+pvSeqStep, c.onSeqStep)
	if err != nil {
		return nil, err
	}
	c.seqStep = seq

	for _, suffix := range cfg.Channels {
		name := cfg.Name + suffix
		v, err := c.bind(ctx, client, name, nil)
		if err != nil {
			return nil, err
		}
		c.channels[name] = v
	}

	orig, err := c.readScopeSettings(ctx)
	if err != nil {
		return nil, err
	}
	c.original = orig

	return c, nil
}

func (c *Cavity) Name() string { return c.name }

// OriginalScopeSettings returns the configuration captured at construction.
func (c *Cavity) OriginalScopeSettings() domain.ScopeSettings { return c.original }

func (c *Cavity) bind(ctx context.Context, client ports.Client, name string, onUpdate func(ports.Update)) (ports.Variable, error) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	v, err := client.Connect(cctx, name)
	if err != nil {
		return nil, cycleErr(KindConnection, c.name, "could not connect to PV %q: %w", name, err)
	}
	if err := v.Subscribe(onUpdate, func(conn bool) { c.setConnected(name, conn) }); err != nil {
		return nil, cycleErr(KindConnection, c.name, "subscribe to PV %q: %w", name, err)
	}
	c.setConnected(name, true)
	return v, nil
}

func (c *Cavity) setConnected(name string, conn bool) {
	c.connMu.Lock()
	c.conns[name] = conn
	c.connMu.Unlock()
}

// PVsConnected reports whether every bound PV is currently connected.
func (c *Cavity) PVsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if len(c.conns) == 0 {
		return false
	}
	for _, ok := range c.conns {
		if !ok {
			return false
		}
	}
	return true
}

// onSeqStep runs on the client's dispatch goroutine. seqTransfer and
// seqFinalize are honored only after a seqSetup has been seen, which guards
// against subscribing mid-cycle and treating a stale step as fresh.
func (c *Cavity) onSeqStep(u ports.Update) {
	step, ok := toFloat(u.Value)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch int(step) {
	case seqSetup:
		c.primed = true
	case seqTransfer:
		if c.primed {
			c.ready = false
			c.windowStart = u.Timestamp
		}
	case seqFinalize:
		if c.primed {
			c.windowEnd = u.Timestamp
			c.ready = true
		}
	}
}

// GetWaveforms blocks until the sequencer has reported a settled data set,
// then downloads every channel and verifies the group is consistent. Zero
// timeout and poll select the defaults (60s, 10ms).
func (c *Cavity) GetWaveforms(ctx context.Context, timeout, poll time.Duration) (map[string][]float64, time.Time, time.Time, error) {
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	if poll <= 0 {
		poll = defaultSnapshotPoll
	}
	deadline := time.Now().Add(timeout)

	for {
		// The sequencer PV drives this whole process; if it drops there is no
		// point waiting out the timeout.
		if !c.seqStep.Connected() {
			return nil, time.Time{}, time.Time{}, cycleErr(KindConnectionLost, c.name,
				"scope sequencer PV (%s) disconnected", c.seqStep.Name())
		}

		c.mu.Lock()
		if c.ready {
			values, start, end, err := c.collectLocked(ctx)
			c.mu.Unlock()
			return values, start, end, err
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, time.Time{}, time.Time{}, cycleErr(KindTimeout, c.name,
				"timed out waiting for good data (> %s)", timeout)
		}
		select {
		case <-ctx.Done():
			return nil, time.Time{}, time.Time{}, cycleErr(KindTimeout, c.name,
				"waveform wait cancelled: %w", ctx.Err())
		case <-time.After(poll):
		}
	}
}

// collectLocked harvests the snapshot. Callers hold mu, which also guards the
// window bounds consumed by the tear check.
func (c *Cavity) collectLocked(ctx context.Context) (map[string][]float64, time.Time, time.Time, error) {
	start, err := c.harvTime(ctx, c.harvStart)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	end, err := c.harvTime(ctx, c.harvEnd)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	c.ready = false

	downloadStart := time.Now()
	values := make(map[string][]float64, len(c.channels))
	for name, v := range c.channels {
		wf, err := c.waveform(ctx, v)
		if err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
		values[name] = wf
	}
	if d := time.Since(downloadStart); d > slowDownloadWarn {
		c.obs.LogInfo("slow waveform download",
			ports.Field{Key: "cavity", Value: c.name},
			ports.Field{Key: "duration", Value: d.String()})
	}

	if c.windowEnd.Before(c.windowStart) {
		return nil, time.Time{}, time.Time{}, cycleErr(KindInvalidWindow, c.name,
			"invalid data acquisition window (%s, %s)",
			c.windowStart.Format(time.RFC3339Nano), c.windowEnd.Format(time.RFC3339Nano))
	}
	for _, v := range c.channels {
		ts := v.LastUpdate()
		if ts.Before(c.windowStart) || ts.After(c.windowEnd) {
			return nil, time.Time{}, time.Time{}, cycleErr(KindWindowViolation, c.name,
				"%s timestamp (%s) outside acquisition window (%s, %s)",
				v.Name(), ts.Format(time.RFC3339Nano),
				c.windowStart.Format(time.RFC3339Nano), c.windowEnd.Format(time.RFC3339Nano))
		}
	}

	return values, start, end, nil
}

func (c *Cavity) harvTime(ctx context.Context, v ports.Variable) (time.Time, error) {
	raw, err := v.Get(ctx)
	if err != nil {
		return time.Time{}, cycleErr(KindConnectionLost, c.name, "read %s: %w", v.Name(), err)
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, cycleErr(KindParse, c.name, "%s: expected string timestamp, got %T", v.Name(), raw)
	}
	t, err := time.ParseInLocation(harvTimeFormat, s, time.Local)
	if err != nil {
		return time.Time{}, cycleErr(KindParse, c.name, "%s: malformed timestamp %q: %w", v.Name(), s, err)
	}
	return t, nil
}

func (c *Cavity) waveform(ctx context.Context, v ports.Variable) ([]float64, error) {
	raw, err := v.Get(ctx)
	if err != nil {
		return nil, cycleErr(KindConnectionLost, c.name, "read %s: %w", v.Name(), err)
	}
	switch wf := raw.(type) {
	case []float64:
		return wf, nil
	case []float32:
		out := make([]float64, len(wf))
		for i, f := range wf {
			out[i] = float64(f)
		}
		return out, nil
	default:
		return nil, cycleErr(KindParse, c.name, "%s: unexpected waveform type %T", v.Name(), raw)
	}
}

// IsGradientRamping reports whether the cavity is ramping gradient, saved as
// bit 11 of the STAT1 status word.
func (c *Cavity) IsGradientRamping(ctx context.Context) (bool, error) {
	v, err := c.getFloat(ctx, c.stat1)
	if err != nil {
		return false, err
	}
	return int64(v)&stat1RampingMask != 0, nil
}

// IsRFOn reports whether the cavity currently has RF on.
func (c *Cavity) IsRFOn(ctx context.Context) (bool, error) {
	v, err := c.getFloat(ctx, c.rfOn)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// IsValidControlMode reports whether the RF control mode suits this
// measurement.
func (c *Cavity) IsValidControlMode(ctx context.Context) (bool, error) {
	v, err := c.getFloat(ctx, c.controlMode)
	if err != nil {
		return false, err
	}
	return v == 4 || v == 64, nil
}

// IsBeamCurrentSufficient reports whether enough beam is present in the
// machine for the data to be meaningful.
func (c *Cavity) IsBeamCurrentSufficient(ctx context.Context) (bool, error) {
	v, err := c.getFloat(ctx, c.beamCurrent)
	if err != nil {
		return false, err
	}
	return v > c.cfg.MinBeamCurrent, nil
}

// StateValid requires all four operating-point conditions simultaneously.
func (c *Cavity) StateValid(ctx context.Context) (bool, error) {
	ramping, err := c.IsGradientRamping(ctx)
	if err != nil {
		return false, err
	}
	rfOn, err := c.IsRFOn(ctx)
	if err != nil {
		return false, err
	}
	validMode, err := c.IsValidControlMode(ctx)
	if err != nil {
		return false, err
	}
	beam, err := c.IsBeamCurrentSufficient(ctx)
	if err != nil {
		return false, err
	}
	return !ramping && rfOn && validMode && beam, nil
}

// CurrentSampleInterval reads the configured waveform sample spacing.
func (c *Cavity) CurrentSampleInterval(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, c.sampleInterval)
}

// EnsureScopeMode puts the scope into the desired capture configuration. When
// the current settings already match, no writes happen at all; the reset
// sequence disturbs ongoing collection and is only worth it on a mismatch.
func (c *Cavity) EnsureScopeMode(ctx context.Context, mode float64) error {
	desired := domain.DesiredScopeSettings(mode)
	cur, err := c.readScopeSettings(ctx)
	if err != nil {
		return err
	}
	if cur.Equal(desired) {
		return nil
	}
	return c.applyScopeSettings(ctx, desired)
}

// RestoreScopeMode reapplies the configuration captured at construction. It
// must run exactly once as the terminal watcher action of every worker run.
func (c *Cavity) RestoreScopeMode(ctx context.Context) error {
	return c.applyScopeSettings(ctx, c.original)
}

// applyScopeSettings performs the mandatory stop/reconfigure/start sequence.
// The hardware silently ignores some field writes unless a stop came first,
// so the full cycle runs even for a single-field change.
func (c *Cavity) applyScopeSettings(ctx context.Context, s domain.ScopeSettings) error {
	if err := c.put(ctx, c.scopeRun, domain.ScopeModeStop, true); err != nil {
		return err
	}
	// Recovering back to 0 after a stop can take a while, particularly on
	// development systems.
	if err := c.waitForValue(ctx, c.scopeRun, domain.ScopeModeStopped, stopReadbackTimeout); err != nil {
		return err
	}

	writes := []struct {
		v   ports.Variable
		val float64
	}{
		{c.sampleInterval, s.SampleInterval},
		{c.triggerDelay, s.TriggerDelay},
		{c.periodicDelay, s.PeriodicDelay},
		{c.debug, s.Debug},
	}
	for _, w := range writes {
		if err := c.put(ctx, w.v, w.val, false); err != nil {
			return err
		}
	}
	for _, w := range writes {
		if err := c.waitForValue(ctx, w.v, w.val, settingReadbackTimeout); err != nil {
			return err
		}
	}

	if err := c.put(ctx, c.scopeRun, s.Mode, true); err != nil {
		return err
	}
	return c.waitForValue(ctx, c.scopeRun, s.Mode, settingReadbackTimeout)
}

func (c *Cavity) readScopeSettings(ctx context.Context) (domain.ScopeSettings, error) {
	var s domain.ScopeSettings
	reads := []struct {
		dst *float64
		v   ports.Variable
	}{
		{&s.Mode, c.scopeRun},
		{&s.SampleInterval, c.sampleInterval},
		{&s.TriggerDelay, c.triggerDelay},
		{&s.PeriodicDelay, c.periodicDelay},
		{&s.Debug, c.debug},
	}
	for _, r := range reads {
		v, err := c.getFloat(ctx, r.v)
		if err != nil {
			return domain.ScopeSettings{}, err
		}
		*r.dst = v
	}
	return s, nil
}

func (c *Cavity) waitForValue(ctx context.Context, v ports.Variable, want float64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		cur, err := c.getFloat(ctx, v)
		if err != nil {
			return err
		}
		if math.Abs(cur-want) < 1e-9 {
			return nil
		}
		if time.Now().After(deadline) {
			return cycleErr(KindTimeout, c.name, "timed out waiting for %s == %v", v.Name(), want)
		}
		select {
		case <-ctx.Done():
			return cycleErr(KindTimeout, c.name, "wait for %s cancelled: %w", v.Name(), ctx.Err())
		case <-time.After(readbackPoll):
		}
	}
}

func (c *Cavity) put(ctx context.Context, v ports.Variable, val float64, wait bool) error {
	if err := v.Put(ctx, val, wait); err != nil {
		return cycleErr(KindConnectionLost, c.name, "write %s: %w", v.Name(), err)
	}
	return nil
}

func (c *Cavity) getFloat(ctx context.Context, v ports.Variable) (float64, error) {
	raw, err := v.Get(ctx)
	if err != nil {
		return 0, cycleErr(KindConnectionLost, c.name, "read %s: %w", v.Name(), err)
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, cycleErr(KindParse, c.name, "%s: expected numeric value, got %T", v.Name(), raw)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
