package domain

// RunStats accumulates per-worker collection outcomes. It is written only by
// the owning worker and read by the coordinator after the worker has joined,
// so no synchronization is needed.
type RunStats struct {
	Cavity    string
	Attempts  int
	Successes int
	Errors    []error
}

// FailureRatio returns the fraction of attempts that did not produce a
// persisted snapshot. A worker that never attempted is a total failure by
// convention, since something prevented it from ever reaching collection.
func (s *RunStats) FailureRatio() float64 {
	if s.Attempts == 0 {
		return 1.0
	}
	return 1.0 - float64(s.Successes)/float64(s.Attempts)
}
