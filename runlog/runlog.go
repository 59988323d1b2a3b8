// Package runlog stores optimization traces in a sqlite database, one
// row per outer iteration, for inspection across scan runs.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableIteration = "iteration"
)

// Store is a sqlite-backed trace of optimization runs.
type Store struct {
	Path string

	db *sql.DB
}

// Iteration is one outer-loop iteration of a named run.
type Iteration struct {
	Run      string
	Iter     int
	Energy   float64
	GradNorm float64
	StepNorm float64
}

// Open creates or opens a store at dbPath.
func Open(dbPath string) (*Store, error) {
	s := &Store{Path: dbPath}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(s.db); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one iteration.
func (s *Store) Append(it Iteration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, iter, energy, gnorm, snorm) VALUES (?, ?, ?, ?, ?)`, tableIteration)
	args := []any{it.Run, it.Iter, it.Energy, it.GradNorm, it.StepNorm}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Trace reads back all iterations of a run in order.
func (s *Store) Trace(run string) ([]Iteration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT run, iter, energy, gnorm, snorm FROM %s WHERE run=? ORDER BY iter`, tableIteration)
	rows, err := s.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var its []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.Run, &it.Iter, &it.Energy, &it.GradNorm, &it.StepNorm); err != nil {
			return nil, errors.Wrap(err, "")
		}
		its = append(its, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return its, nil
}

// Final reads back the last iteration of a run.
func (s *Store) Final(run string) (Iteration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT run, iter, energy, gnorm, snorm FROM %s WHERE run=? ORDER BY iter DESC LIMIT 1`, tableIteration)
	var it Iteration
	err := s.db.QueryRowContext(ctx, sqlStr, run).Scan(&it.Run, &it.Iter, &it.Energy, &it.GradNorm, &it.StepNorm)
	switch {
	case err == sql.ErrNoRows:
		return Iteration{}, errors.Errorf("no run %s", run)
	case err != nil:
		return Iteration{}, errors.Wrap(err, "")
	}
	return it, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, iter INTEGER, energy REAL, gnorm REAL, snorm REAL, PRIMARY KEY (run, iter)) STRICT`, tableIteration)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
