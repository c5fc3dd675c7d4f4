// Package rfwscopedaq exposes the waveform acquisition runtime for embedding
// in other Go programs. The default adapters talk OPC UA to the control
// system, write TSV files or PostgreSQL rows, and report failures by email;
// every one of them can be swapped through an Option.
package rfwscopedaq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/notify"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/observability"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/opcua"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/adapters/sink"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/app/config"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/daq"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// Config is the runtime configuration. See config.Load for the YAML layout.
type Config = config.Config

// LoadConfig reads, defaults, and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	client      ports.Client
	sink        ports.Sink
	notifier    ports.Notifier
	notifierSet bool
	obs         ports.Observability
}

// WithClient injects a custom PV client (simulators, channel access bridges).
func WithClient(c ports.Client) Option {
	return func(o *overrides) { o.client = c }
}

// WithSink injects a custom persistence backend.
func WithSink(s ports.Sink) Option {
	return func(o *overrides) { o.sink = s }
}

// WithNotifier replaces the email notifier. Passing nil disables failure
// reports entirely.
func WithNotifier(n ports.Notifier) Option {
	return func(o *overrides) {
		o.notifier = n
		o.notifierSet = true
	}
}

// WithObservability plugs in a custom metrics and logging backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// Runtime owns the client session, the per-cavity workers, and the metrics
// endpoint for one acquisition run.
type Runtime struct {
	cfg      *Config
	cavities []string
	obs      ports.Observability
	client   ports.Client
	sink     ports.Sink
	notifier ports.Notifier

	db         *sql.DB
	metricsSrv *http.Server

	stats []*domain.RunStats
}

// NewRuntime bootstraps the default adapters and validates every cavity name.
// outDir is the directory file output lands in; it is ignored for db output.
func NewRuntime(ctx context.Context, cfg *Config, cavities []string, outDir string, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cavities) == 0 {
		return nil, fmt.Errorf("at least one cavity is required")
	}
	for _, cav := range cavities {
		if err := domain.ValidateCavity(cav); err != nil {
			return nil, err
		}
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.obs
	if obs == nil {
		obs = observability.NewPromObs(true)
	}

	r := &Runtime{
		cfg:      cfg,
		cavities: cavities,
		obs:      obs,
	}

	var err error
	r.client = o.client
	if r.client == nil {
		r.client, err = opcua.Dial(ctx, cfg.Client)
		if err != nil {
			return nil, fmt.Errorf("dial client: %w", err)
		}
	}

	r.sink = o.sink
	if r.sink == nil {
		switch cfg.Output {
		case "file":
			r.sink = sink.NewFileSink(outDir)
		case "db":
			r.db, err = sql.Open("postgres", cfg.DB.ConnString)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			// A small shared pool keeps a whole linac of workers from
			// saturating the database server.
			r.db.SetMaxOpenConns(cfg.DB.PoolSize)
			r.sink = sink.NewDBSink(r.db)
		default:
			return nil, fmt.Errorf("unknown output %q", cfg.Output)
		}
	}

	if o.notifierSet {
		r.notifier = o.notifier
	} else if cfg.Email.FromAddr != "" && len(cfg.Email.ToAddrs) > 0 {
		r.notifier = notify.NewEmailSender(cfg.Email.SMTPServer, cfg.Email.FromAddr, cfg.Email.ToAddrs)
	}

	return r, nil
}

// Run executes the full acquisition: one worker per cavity until the
// configured duration elapses or ctx is cancelled, then the failure report
// and shutdown. It blocks for the whole run.
func (r *Runtime) Run(ctx context.Context) error {
	r.startMetrics()

	duration := time.Duration(r.cfg.DurationMinutes * float64(time.Minute))
	workers := make([]*daq.Worker, 0, len(r.cavities))
	for _, cav := range r.cavities {
		wcfg := daq.WorkerConfig{
			Cavity: daq.CavityConfig{
				Name:           cav,
				Channels:       r.cfg.Channels,
				BeamCurrentPV:  r.cfg.BeamCurrentPV,
				MinBeamCurrent: r.cfg.MinBeamCurrent,
			},
			MetaPVs:  r.cfg.MetaPVs,
			Duration: duration,
		}
		workers = append(workers, daq.NewWorker(wcfg, r.client, r.sink, r.obs))
	}

	r.stats = daq.NewFleet(workers, r.obs).Run(ctx)

	// The report goes out even when ctx is already cancelled.
	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reportErr := daq.SendFailureReport(reportCtx, r.notifier, r.stats, r.cfg.FailureThreshold)
	if reportErr != nil {
		r.obs.LogError("failure report not sent", reportErr)
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	return errors.Join(reportErr, r.Shutdown(shutdownCtx))
}

// Stats returns the per-cavity outcomes. Only meaningful after Run returns.
func (r *Runtime) Stats() []*domain.RunStats { return r.stats }

// Shutdown stops the metrics server, the client session, and the database
// pool.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}

	if r.client != nil {
		if err := r.client.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		r.client = nil
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}
	r.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}
