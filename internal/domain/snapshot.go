package domain

import "time"

// Snapshot is one validated multi-channel waveform capture from a single
// cavity. Start and End are the hardware-reported wall-clock bounds of the
// FPGA collection, not the times the records were read back. A Snapshot is
// immutable once built; ownership passes to whichever sink persists it.
type Snapshot struct {
	Cavity string
	Start  time.Time
	End    time.Time

	// SampleInterval is the spacing in seconds between consecutive points
	// within each waveform.
	SampleInterval float64

	// Channels maps PV name to its fixed-length waveform.
	Channels map[string][]float64

	// Contextual machine state captured alongside the waveforms, split by the
	// runtime type the control system reported.
	FloatMeta  map[string]float64
	StringMeta map[string]string
}

// SamplingRate returns the waveform sampling rate in Hz, or 0 when the
// interval is unknown.
func (s *Snapshot) SamplingRate() float64 {
	if s.SampleInterval <= 0 {
		return 0
	}
	return 1.0 / s.SampleInterval
}

// Length returns the number of points per waveform. Channels are validated as
// a synchronized group, so the first one is representative.
func (s *Snapshot) Length() int {
	for _, wf := range s.Channels {
		return len(wf)
	}
	return 0
}
