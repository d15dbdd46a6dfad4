// Package memory is an in-process implementation of repo.Store. Transactions
// are serialized by one mutex and applied to a copy of the state that replaces
// the live state only on success, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/outbox"
	"storefront-engine/internal/repo"

	"github.com/google/uuid"
)

type variantKey struct {
	productID uuid.UUID
	size      string
	color     string
}

func keyOf(l domain.OrderLine) variantKey {
	return variantKey{productID: l.ProductID, size: l.Size, color: l.Color}
}

type state struct {
	orders    map[uuid.UUID]*domain.Order
	byGateway map[string]uuid.UUID
	variants  map[variantKey]int
	carts     map[uuid.UUID][]domain.CartItem
	recons    []domain.Reconciliation
	events    []outbox.Event
	nextRecon int64
	nextEvent int64
}

func newState() *state {
	return &state{
		orders:    make(map[uuid.UUID]*domain.Order),
		byGateway: make(map[string]uuid.UUID),
		variants:  make(map[variantKey]int),
		carts:     make(map[uuid.UUID][]domain.CartItem),
	}
}

func (s *state) clone() *state {
	c := &state{
		orders:    make(map[uuid.UUID]*domain.Order, len(s.orders)),
		byGateway: maps.Clone(s.byGateway),
		variants:  maps.Clone(s.variants),
		carts:     make(map[uuid.UUID][]domain.CartItem, len(s.carts)),
		recons:    slices.Clone(s.recons),
		events:    slices.Clone(s.events),
		nextRecon: s.nextRecon,
		nextEvent: s.nextEvent,
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, items := range s.carts {
		c.carts[id] = slices.Clone(items)
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ repo.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState()}
}

// view runs fn against some state. The auto-commit view locks the store and
// applies fn atomically; the transactional view runs against the tx copy.
type view interface {
	do(fn func(st *state) error) error
}

type autoCommit struct {
	s *Store
}

func (a autoCommit) do(fn func(st *state) error) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	work := a.s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	a.s.st = work
	return nil
}

type txView struct {
	st *state
}

func (t txView) do(fn func(st *state) error) error {
	return fn(t.st)
}

type repos struct {
	v view
}

func (r repos) Orders() repo.OrderRepo                   { return &orderRepo{v: r.v} }
func (r repos) Stock() repo.StockLedger                  { return &stockLedger{v: r.v} }
func (r repos) Carts() repo.CartRepo                     { return &cartRepo{v: r.v} }
func (r repos) Reconciliations() repo.ReconciliationRepo { return &reconciliationRepo{v: r.v} }
func (r repos) Outbox() repo.OutboxRepo                  { return &outboxRepo{v: r.v} }

func (s *Store) Orders() repo.OrderRepo  { return repos{v: autoCommit{s}}.Orders() }
func (s *Store) Stock() repo.StockLedger { return repos{v: autoCommit{s}}.Stock() }
func (s *Store) Carts() repo.CartRepo    { return repos{v: autoCommit{s}}.Carts() }
func (s *Store) Outbox() repo.OutboxRepo { return repos{v: autoCommit{s}}.Outbox() }
func (s *Store) Reconciliations() repo.ReconciliationRepo {
	return repos{v: autoCommit{s}}.Reconciliations()
}

// WithTx must not call the Store's own repositories from fn; use tx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repo.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, repos{v: txView{st: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Events returns a snapshot of every outbox event written so far.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.events)
}
