package rfwscopedaq

import (
	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// Snapshot is one validated multi-channel waveform capture. It mirrors
// internal/domain.Snapshot but is exported so custom sinks can reference it.
type Snapshot = domain.Snapshot

// RunStats is the per-cavity outcome of a run.
type RunStats = domain.RunStats

// Client binds named process variables in the control system. Implement it to
// point the runtime at a simulator or a different control protocol.
type Client = ports.Client

// Variable is one bound process variable handed out by a Client.
type Variable = ports.Variable

// Update is a value change delivered by a Client's dispatch path.
type Update = ports.Update

// Sink persists validated snapshots to any downstream system.
type Sink = ports.Sink

// Notifier delivers operator-facing messages such as the failure report.
type Notifier = ports.Notifier

// Observability emits metrics and logs about collection progress and failures.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field
