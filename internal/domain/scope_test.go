package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDesiredScopeSettings(t *testing.T) {
	s := DesiredScopeSettings(ScopeModePeriodic)
	assert.Equal(t, ScopeModePeriodic, s.Mode)
	assert.Equal(t, 0.2, s.SampleInterval)
	assert.Equal(t, 102.4, s.TriggerDelay)
	assert.Equal(t, 0.1, s.PeriodicDelay)
	assert.Equal(t, 1.0, s.Debug)
}

func TestScopeSettingsEqual(t *testing.T) {
	a := DesiredScopeSettings(ScopeModePeriodic)
	b := a
	assert.True(t, a.Equal(b))

	// Float readbacks are never bit-exact.
	b.TriggerDelay += 1e-12
	assert.True(t, a.Equal(b))

	b.TriggerDelay = 102.5
	assert.False(t, a.Equal(b))

	b = a
	b.Mode = ScopeModeSingle
	assert.False(t, a.Equal(b))
}

func TestFailureRatio(t *testing.T) {
	s := &RunStats{Cavity: "R1M1", Attempts: 10, Successes: 2}
	assert.InDelta(t, 0.8, s.FailureRatio(), 1e-12)

	s = &RunStats{Cavity: "R1M2", Attempts: 4, Successes: 4}
	assert.Equal(t, 0.0, s.FailureRatio())

	// Never attempting counts as total failure.
	s = &RunStats{Cavity: "R1M3"}
	assert.Equal(t, 1.0, s.FailureRatio())
}

func TestSnapshotDerived(t *testing.T) {
	snap := &Snapshot{
		SampleInterval: 0.2,
		Channels: map[string][]float64{
			"R1M1WFSGMES": {1, 2, 3},
		},
	}
	assert.Equal(t, 5.0, snap.SamplingRate())
	assert.Equal(t, 3, snap.Length())

	empty := &Snapshot{}
	assert.Equal(t, 0.0, empty.SamplingRate())
	assert.Equal(t, 0, empty.Length())
}
