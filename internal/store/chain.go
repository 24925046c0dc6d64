package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/cwbudde/swarmcal/internal/fit"
)

const chainSchema = `
CREATE TABLE IF NOT EXISTS chain_samples (
	run_id     TEXT    NOT NULL,
	step       INTEGER NOT NULL,
	walker     INTEGER NOT NULL,
	position   TEXT    NOT NULL,
	log_prob   REAL,
	accepted   INTEGER NOT NULL,
	created_at TEXT    NOT NULL,
	PRIMARY KEY (run_id, step, walker)
);
`

// ChainStore persists the full ensemble chain in SQLite, one row per walker
// per step. A log-probability of -Inf is stored as NULL.
type ChainStore struct {
	db    *sql.DB
	runID string
}

// OpenChainStore opens (or creates) the chain database at path.
func OpenChainStore(path, runID string) (*ChainStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open chain db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(chainSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &ChainStore{db: db, runID: runID}, nil
}

// Close closes the underlying database connection.
func (s *ChainStore) Close() error {
	return s.db.Close()
}

// RecordSamples inserts one chain step in a single transaction.
func (s *ChainStore) RecordSamples(samples []fit.ChainSample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO chain_samples (run_id, step, walker, position, log_prob, accepted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, sample := range samples {
		pos, err := json.Marshal(sample.X)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		var logProb any
		if !math.IsInf(sample.LogProb, 0) && !math.IsNaN(sample.LogProb) {
			logProb = sample.LogProb
		}
		accepted := 0
		if sample.Accepted {
			accepted = 1
		}
		if _, err := stmt.Exec(s.runID, sample.Step, sample.Walker, string(pos), logProb, accepted, now); err != nil {
			return fmt.Errorf("insert step %d walker %d: %w", sample.Step, sample.Walker, err)
		}
	}
	return tx.Commit()
}

// Samples returns every stored sample of the run with step >= fromStep,
// ordered by step then walker.
func (s *ChainStore) Samples(fromStep int) ([]fit.ChainSample, error) {
	rows, err := s.db.Query(
		`SELECT step, walker, position, log_prob, accepted FROM chain_samples
		 WHERE run_id = ? AND step >= ? ORDER BY step, walker`,
		s.runID, fromStep,
	)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []fit.ChainSample
	for rows.Next() {
		var (
			sample   fit.ChainSample
			pos      string
			logProb  sql.NullFloat64
			accepted int
		)
		if err := rows.Scan(&sample.Step, &sample.Walker, &pos, &logProb, &accepted); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(pos), &sample.X); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		sample.LogProb = math.Inf(-1)
		if logProb.Valid {
			sample.LogProb = logProb.Float64
		}
		sample.Accepted = accepted != 0
		out = append(out, sample)
	}
	return out, rows.Err()
}

// ChainSummary describes the stored chain.
type ChainSummary struct {
	Steps   int `json:"steps"`
	Walkers int `json:"walkers"`

	// Acceptance is the accepted fraction per walker over steps after the
	// initial one.
	Acceptance []float64 `json:"acceptance"`

	// Mean and StdDev are per-parameter posterior moments over the samples
	// at or after the burn-in step.
	Mean   []float64 `json:"mean"`
	StdDev []float64 `json:"stdDev"`
}

// Summary computes acceptance fractions and posterior moments, discarding
// steps before burnIn for the moments.
func (s *ChainStore) Summary(burnIn int) (*ChainSummary, error) {
	samples, err := s.Samples(0)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return &ChainSummary{}, nil
	}

	walkers, steps, dim := 0, 0, len(samples[0].X)
	for _, sample := range samples {
		walkers = max(walkers, sample.Walker+1)
		steps = max(steps, sample.Step+1)
	}

	accepted := make([]float64, walkers)
	proposed := make([]float64, walkers)
	columns := make([][]float64, dim)
	for _, sample := range samples {
		if sample.Step > 0 {
			proposed[sample.Walker]++
			if sample.Accepted {
				accepted[sample.Walker]++
			}
		}
		if sample.Step >= burnIn {
			for j, v := range sample.X {
				columns[j] = append(columns[j], v)
			}
		}
	}

	summary := &ChainSummary{
		Steps:      steps,
		Walkers:    walkers,
		Acceptance: make([]float64, walkers),
		Mean:       make([]float64, dim),
		StdDev:     make([]float64, dim),
	}
	for k := range accepted {
		if proposed[k] > 0 {
			summary.Acceptance[k] = accepted[k] / proposed[k]
		}
	}
	for j, col := range columns {
		if len(col) < 2 {
			if len(col) == 1 {
				summary.Mean[j] = col[0]
			}
			continue
		}
		summary.Mean[j], summary.StdDev[j] = stat.MeanStdDev(col, nil)
	}
	return summary, nil
}
