package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so every repo can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repos groups the repositories bound to one connection or transaction.
type Repos interface {
	Orders() OrderRepo
	Stock() StockLedger
	Carts() CartRepo
	Reconciliations() ReconciliationRepo
	Outbox() OutboxRepo
}

// Store hands out repositories and runs work atomically. Any error returned by
// fn rolls back every write made through tx.
type Store interface {
	Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

type pgRepos struct {
	q Querier
}

func (r pgRepos) Orders() OrderRepo                   { return &orderRepo{q: r.q} }
func (r pgRepos) Stock() StockLedger                  { return &stockRepo{q: r.q} }
func (r pgRepos) Carts() CartRepo                     { return &cartRepo{q: r.q} }
func (r pgRepos) Reconciliations() ReconciliationRepo { return &reconciliationRepo{q: r.q} }
func (r pgRepos) Outbox() OutboxRepo                  { return &outboxRepo{q: r.q} }

type pgStore struct {
	pgRepos
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) Store {
	return &pgStore{pgRepos: pgRepos{q: db}, db: db}
}

func (s *pgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, pgRepos{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
