package rfwscopedaq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/opcua"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/app/config"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// unreachableClient refuses every bind, standing in for a control system that
// is down.
type unreachableClient struct{}

func (unreachableClient) Connect(context.Context, string) (ports.Variable, error) {
	return nil, errors.New("no route to gateway")
}
func (unreachableClient) Close(context.Context) error { return nil }

type dropSink struct{}

func (dropSink) Name() string                                  { return "drop" }
func (dropSink) Write(context.Context, *domain.Snapshot) error { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) SetGauge(string, float64)                  {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) RecordFailure(string, string)              {}

func testConfig() *Config {
	cfg := &config.Config{
		DurationMinutes:  0.01,
		Channels:         []string{"WFSGMES"},
		BaseDir:          "/tmp/waveforms",
		FailureThreshold: 0.9,
		Output:           "file",
		Client:           opcua.Config{Endpoint: "opc.tcp://gateway:4840"},
		Metrics:          config.MetricsConfig{Addr: "127.0.0.1:0"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewRuntimeValidation(t *testing.T) {
	ctx := context.Background()
	opts := []Option{
		WithClient(unreachableClient{}),
		WithSink(dropSink{}),
		WithObservability(nopObs{}),
	}

	if _, err := NewRuntime(ctx, nil, []string{"R1M1"}, ""); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewRuntime(ctx, testConfig(), nil, "", opts...); err == nil {
		t.Fatal("expected error for no cavities")
	}
	if _, err := NewRuntime(ctx, testConfig(), []string{"R9M1"}, "", opts...); err == nil {
		t.Fatal("expected error for an invalid cavity name")
	}
	if _, err := NewRuntime(ctx, testConfig(), []string{"R1M1"}, "", opts...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRuntimeReportsTotalFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	rt, err := NewRuntime(context.Background(), testConfig(), []string{"R1M1", "R1M2"}, "",
		WithClient(unreachableClient{}),
		WithSink(dropSink{}),
		WithNotifier(notifier),
		WithObservability(nopObs{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stats := rt.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected stats for both cavities, got %d", len(stats))
	}
	for _, s := range stats {
		if s.Attempts != 0 || len(s.Errors) != 1 {
			t.Fatalf("expected one construction failure for %s, got %+v", s.Cavity, s)
		}
	}

	// Every worker failed outright, so the report must have gone out.
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.subjects) != 1 {
		t.Fatalf("expected one failure report, got %d", len(notifier.subjects))
	}
	if !strings.Contains(notifier.bodies[0], "R1M2: 0 / 0 attempts succeeded") {
		t.Fatalf("report missing cavity summary:\n%s", notifier.bodies[0])
	}
}

func TestRuntimeDisabledNotifier(t *testing.T) {
	cfg := testConfig()
	cfg.Email.FromAddr = "daq@example.org"
	cfg.Email.ToAddrs = []string{"ops@example.org"}

	rt, err := NewRuntime(context.Background(), cfg, []string{"R1M1"}, "",
		WithClient(unreachableClient{}),
		WithSink(dropSink{}),
		WithNotifier(nil),
		WithObservability(nopObs{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if rt.notifier != nil {
		t.Fatal("expected WithNotifier(nil) to disable the configured email notifier")
	}
}
