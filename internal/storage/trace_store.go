package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/nr-ran-simulator/internal/logging"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
)

//go:embed schema.sql
var schemaSQL string

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("trace store closed")

var _ phy.RxTraceSink = (*TraceStore)(nil)

// TraceStore persists per transport block reception traces in SQLite. The
// database is opened on first use.
type TraceStore struct {
	path string
	log  logging.Logger

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closed    atomic.Bool
	failures  atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

// NewTraceStore creates a store backed by the SQLite file at path.
func NewTraceStore(path string, log logging.Logger) (*TraceStore, error) {
	if path == "" {
		return nil, errors.New("trace store path is required")
	}
	if log == nil {
		log = logging.Noop()
	}
	return &TraceStore{path: path, log: log.With(logging.String("component", "trace_store"))}, nil
}

func (s *TraceStore) getDB() (*sql.DB, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", "file:"+s.path+"?_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			s.dbErr = err
			return
		}
		// One writer; SQLite serialises writes anyway.
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initialising schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

const insertTraceSQL = `
INSERT INTO rx_traces (sim_time_ns,
                       cell_id,
                       carrier_id,
                       rnti,
                       downlink,
                       tb_size,
                       mcs,
                       rv,
                       harq_process_id,
                       sym_start,
                       num_sym,
                       num_rbs,
                       sinr_avg_db,
                       sinr_min_db,
                       tbler,
                       corrupted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert stores one trace.
func (s *TraceStore) Insert(ctx context.Context, t phy.RxPacketTrace) error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("getting connection: %w", err)
	}
	_, err = db.ExecContext(ctx, insertTraceSQL,
		t.Time.UnixNano(),
		t.CellID,
		t.CarrierID,
		t.Rnti,
		t.Downlink,
		t.TbSize,
		t.Mcs,
		t.Rv,
		t.HarqProcessID,
		t.SymStart,
		t.NumSym,
		t.NumRbs,
		t.SinrAvgDb,
		t.SinrMinDb,
		t.Tbler,
		t.Corrupted,
	)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}
	return nil
}

// RecordRx implements phy.RxTraceSink. Failures are logged and counted.
func (s *TraceStore) RecordRx(t phy.RxPacketTrace) {
	ctx := context.Background()
	if err := s.Insert(ctx, t); err != nil {
		if s.failures.Add(1) == 1 {
			s.log.Error(ctx, "rx trace not stored", logging.Err(err))
		}
	}
}

// Failures returns how many RecordRx calls could not be stored.
func (s *TraceStore) Failures() uint64 { return s.failures.Load() }

// Count returns the number of stored traces.
func (s *TraceStore) Count(ctx context.Context) (n int, err error) {
	db, err := s.getDB()
	if err != nil {
		return 0, fmt.Errorf("getting connection: %w", err)
	}
	if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rx_traces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting traces: %w", err)
	}
	return n, nil
}

const selectByRntiSQL = `
SELECT sim_time_ns,
       cell_id,
       carrier_id,
       rnti,
       downlink,
       tb_size,
       mcs,
       rv,
       harq_process_id,
       sym_start,
       num_sym,
       num_rbs,
       sinr_avg_db,
       sinr_min_db,
       tbler,
       corrupted
FROM rx_traces
WHERE cell_id = ?
  AND rnti = ?
ORDER BY sim_time_ns, id`

// TracesFor returns the traces of rnti in cellID in time order.
func (s *TraceStore) TracesFor(ctx context.Context, cellID, rnti uint16) (traces []phy.RxPacketTrace, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectByRntiSQL, cellID, rnti)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var (
			t  phy.RxPacketTrace
			ns int64
		)
		if err = rows.Scan(&ns, &t.CellID, &t.CarrierID, &t.Rnti, &t.Downlink, &t.TbSize, &t.Mcs, &t.Rv,
			&t.HarqProcessID, &t.SymStart, &t.NumSym, &t.NumRbs, &t.SinrAvgDb, &t.SinrMinDb,
			&t.Tbler, &t.Corrupted); err != nil {
			return nil, fmt.Errorf("scanning trace: %w", err)
		}
		t.Time = time.Unix(0, ns).UTC()
		traces = append(traces, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating traces: %w", err)
	}
	return traces, nil
}

// Close releases the database. It is safe to call more than once.
func (s *TraceStore) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
