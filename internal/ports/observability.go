package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)

	// RecordFailure tallies one per-cycle collection failure by cavity and
	// failure kind.
	RecordFailure(cavity, kind string)
}

type Field struct {
	Key   string
	Value any
}
