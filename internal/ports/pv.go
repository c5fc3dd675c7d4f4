package ports

import (
	"context"
	"time"
)

// Update is a value change delivered asynchronously by the client. Callbacks
// run on the client's dispatch goroutine, never on the caller's, so anything
// they touch must be synchronized.
type Update struct {
	Value     any
	Timestamp time.Time
}

// Variable is an opaque bound reference to one remote named variable (PV).
// Connection state is mutated by the client's dispatch path and read by the
// owner; implementations must make Connected and LastUpdate safe for that.
type Variable interface {
	Name() string
	Connected() bool

	// Get reads the current value. A missing value is reported as an error,
	// never returned as nil.
	Get(ctx context.Context) (any, error)

	// Put writes a value. With wait set, Put does not return until the server
	// has processed the write.
	Put(ctx context.Context, value any, wait bool) error

	// Subscribe registers callbacks for value changes and connection-state
	// transitions. Either callback may be nil. At most one subscription per
	// variable.
	Subscribe(onUpdate func(Update), onConn func(connected bool)) error

	// LastUpdate is the server-reported timestamp of the most recent value.
	LastUpdate() time.Time
}

// Client binds named variables in the control system.
type Client interface {
	// Connect binds one variable, waiting for the connection to establish or
	// ctx to expire.
	Connect(ctx context.Context, name string) (Variable, error)
	Close(ctx context.Context) error
}
