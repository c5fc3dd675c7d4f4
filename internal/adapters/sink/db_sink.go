package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

const (
	defaultAcquireRetries = 10
	defaultAcquireWait    = 100 * time.Millisecond
	defaultAcquireTimeout = 250 * time.Millisecond
)

// DBSink inserts snapshots into the scope waveform schema: a scan row, its
// metadata rows, and one waveform row per channel. The pool is deliberately
// small; a whole linac of workers sharing it must not saturate the database
// server, so acquisition blocks-and-retries instead of failing fast.
type DBSink struct {
	db *sql.DB

	acquireRetries int
	acquireWait    time.Duration
	acquireTimeout time.Duration
}

func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{
		db:             db,
		acquireRetries: defaultAcquireRetries,
		acquireWait:    defaultAcquireWait,
		acquireTimeout: defaultAcquireTimeout,
	}
}

func (s *DBSink) Name() string { return "db" }

func (s *DBSink) Write(ctx context.Context, snap *domain.Snapshot) error {
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scan insert: %w", err)
	}
	defer tx.Rollback()

	scanID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO scan (scan_id, start_time, end_time) VALUES ($1,$2,$3)",
		scanID, snap.Start, snap.End); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	if err := s.insertMetadata(ctx, tx, scanID, snap); err != nil {
		return err
	}

	for _, ch := range sortedKeys(snap.Channels) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO waveform (scan_id, cavity, channel, sampling_rate, samples) VALUES ($1,$2,$3,$4,$5)",
			scanID, snap.Cavity, ch, snap.SamplingRate(), pq.Array(snap.Channels[ch])); err != nil {
			return fmt.Errorf("insert waveform %s: %w", ch, err)
		}
	}

	return tx.Commit()
}

func (s *DBSink) insertMetadata(ctx context.Context, tx *sql.Tx, scanID string, snap *domain.Snapshot) error {
	n := len(snap.FloatMeta) + len(snap.StringMeta)
	if n == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO scan_metadata (scan_id, name, float_value, str_value) VALUES ")
	args := make([]any, 0, n*4)

	add := func(name string, fv, sv any) {
		if len(args) > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4)
		args = append(args, scanID, name, fv, sv)
	}
	for _, key := range sortedKeys(snap.FloatMeta) {
		add(key, snap.FloatMeta[key], nil)
	}
	for _, key := range sortedKeys(snap.StringMeta) {
		add(key, nil, snap.StringMeta[key])
	}

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert scan metadata: %w", err)
	}
	return nil
}

// acquireConn blocks-and-retries against pool exhaustion. Any other
// acquisition failure surfaces immediately.
func (s *DBSink) acquireConn(ctx context.Context) (*sql.Conn, error) {
	var last error
	for attempt := 0; attempt < s.acquireRetries; attempt++ {
		acqCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		conn, err := s.db.Conn(acqCtx)
		cancel()
		if err == nil {
			return conn, nil
		}
		last = err
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire database connection: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.acquireWait):
		}
	}
	return nil, fmt.Errorf("database pool exhausted after %d attempts: %w", s.acquireRetries, last)
}

var _ ports.Sink = (*DBSink)(nil)
