package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/strata-orm/strata/dialect"
)

// ErrScopeDone is returned when committing or rolling back a scope that was
// already committed or rolled back.
var ErrScopeDone = errors.New("dialect/sql: transaction scope already closed")

// Scoper hands out nested transaction scopes over a single driver. The
// outermost Begin opens a real transaction; inner Begins create savepoints,
// so a nested rollback undoes only its own scope. A Scoper is bound to one
// logical connection and is not safe for concurrent use.
type Scoper struct {
	drv   dialect.Driver
	tx    dialect.Tx // open root transaction, nil when idle.
	depth int
	seq   int // savepoint name counter, monotonic per root transaction.
}

// NewScoper returns a scope manager for the given driver.
func NewScoper(drv dialect.Driver) *Scoper {
	return &Scoper{drv: drv}
}

// Querier returns the current execution target: the open transaction if one
// exists, otherwise the bare driver. Reads issued through it join whatever
// scope is currently open.
func (s *Scoper) Querier() dialect.ExecQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.drv
}

// InScope reports whether a transaction scope is currently open.
func (s *Scoper) InScope() bool { return s.depth > 0 }

// Begin opens a new scope. Callers must either Commit or Rollback the
// returned scope; deferring Close guarantees rollback on exceptional paths.
func (s *Scoper) Begin(ctx context.Context) (*Scope, error) {
	if s.tx == nil {
		tx, err := s.drv.Tx(ctx)
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: begin: %w", err)
		}
		s.tx = tx
		s.seq = 0
		s.depth = 1
		return &Scope{scoper: s, depth: 1}, nil
	}
	s.seq++
	name := fmt.Sprintf("strata_sp_%d", s.seq)
	if err := s.tx.Exec(ctx, "SAVEPOINT "+name, []any{}, nil); err != nil {
		return nil, fmt.Errorf("dialect/sql: savepoint %s: %w", name, err)
	}
	s.depth++
	return &Scope{scoper: s, depth: s.depth, savepoint: name}, nil
}

// Scope is one open nesting level. The outermost scope maps to the real
// transaction; inner scopes map to savepoints.
type Scope struct {
	scoper    *Scoper
	depth     int
	savepoint string // empty for the outermost scope.
	done      bool
}

// Exec implements dialect.ExecQuerier within the scope's transaction.
func (sc *Scope) Exec(ctx context.Context, query string, args, v any) error {
	if sc.done {
		return ErrScopeDone
	}
	return sc.scoper.tx.Exec(ctx, query, args, v)
}

// Query implements dialect.ExecQuerier within the scope's transaction.
func (sc *Scope) Query(ctx context.Context, query string, args, v any) error {
	if sc.done {
		return ErrScopeDone
	}
	return sc.scoper.tx.Query(ctx, query, args, v)
}

func (sc *Scope) finish() error {
	if sc.done {
		return ErrScopeDone
	}
	if sc.depth != sc.scoper.depth {
		return fmt.Errorf("dialect/sql: scope closed out of order (depth %d, open %d)", sc.depth, sc.scoper.depth)
	}
	sc.done = true
	sc.scoper.depth--
	return nil
}

// Commit commits the scope. For inner scopes the savepoint is released; only
// the outermost commit touches the real transaction boundary.
func (sc *Scope) Commit() error {
	if err := sc.finish(); err != nil {
		return err
	}
	if sc.savepoint != "" {
		return sc.scoper.tx.Exec(context.Background(), "RELEASE SAVEPOINT "+sc.savepoint, []any{}, nil)
	}
	err := sc.scoper.tx.Commit()
	sc.scoper.tx = nil
	return err
}

// Rollback rolls the scope back. Inner scopes roll back to their savepoint,
// leaving outer work intact.
func (sc *Scope) Rollback() error {
	if err := sc.finish(); err != nil {
		return err
	}
	if sc.savepoint != "" {
		ctx := context.Background()
		if err := sc.scoper.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sc.savepoint, []any{}, nil); err != nil {
			return err
		}
		return sc.scoper.tx.Exec(ctx, "RELEASE SAVEPOINT "+sc.savepoint, []any{}, nil)
	}
	err := sc.scoper.tx.Rollback()
	sc.scoper.tx = nil
	return err
}

// Close rolls the scope back unless it was already committed or rolled back.
// It is intended to be deferred right after Begin.
func (sc *Scope) Close() error {
	if sc.done {
		return nil
	}
	return sc.Rollback()
}

var _ dialect.ExecQuerier = (*Scope)(nil)
