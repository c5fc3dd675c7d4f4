package domain

import "math"

// Scope run modes as written to the WFSCOPrun PV. -1 requests a stop, 0 is
// the stopped readback, positive values select a capture mode.
const (
	ScopeModeStop     = -1.0
	ScopeModeStopped  = 0.0
	ScopeModeSingle   = 1.0
	ScopeModeRun      = 2.0
	ScopeModePeriodic = 3.0
)

// ScopeSettings is the 5-tuple of waveform-capture parameters held by the
// scope hardware.
type ScopeSettings struct {
	Mode           float64
	SampleInterval float64
	TriggerDelay   float64
	PeriodicDelay  float64
	Debug          float64
}

// DesiredScopeSettings returns the capture configuration this DAQ requires.
// The non-mode values are fixed by the measurement, not configurable.
func DesiredScopeSettings(mode float64) ScopeSettings {
	return ScopeSettings{
		Mode:           mode,
		SampleInterval: 0.2,
		TriggerDelay:   102.4,
		PeriodicDelay:  0.1,
		Debug:          1,
	}
}

// Equal compares two settings tuples with a tolerance suited to the float
// readbacks the hardware produces.
func (s ScopeSettings) Equal(o ScopeSettings) bool {
	return closeEnough(s.Mode, o.Mode) &&
		closeEnough(s.SampleInterval, o.SampleInterval) &&
		closeEnough(s.TriggerDelay, o.TriggerDelay) &&
		closeEnough(s.PeriodicDelay, o.PeriodicDelay) &&
		closeEnough(s.Debug, o.Debug)
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
