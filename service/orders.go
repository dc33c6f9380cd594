// Package service implements the order consistency rules: resolving person
// references into snapshots on every order write, and repairing snapshots and
// orders when the person directory reports a change or a deletion.
package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arkantrust/order-service/apierr"
	"github.com/arkantrust/order-service/logger"
	"github.com/arkantrust/order-service/models"
	"github.com/arkantrust/order-service/store"
)

// Store is the aggregate store the service persists through.
type Store interface {
	Create(input models.OrderInput, persons []models.Person, idemKey string) (*models.Order, bool, error)
	FindByIdempotencyKey(key string) (*models.Order, error)
	List() ([]models.Order, error)
	Get(id string) (*models.Order, error)
	GetInput(id string) (*models.StoredOrder, error)
	Update(id string, patch models.OrderPatch, persons []models.Person) (*models.Order, error)
	DeleteOne(id string) (*models.Order, error)
	DeleteAll() error
	UpsertPerson(p models.Person) error
	DeletePerson(personID string) ([]string, error)
}

// PersonFetcher looks up the current record of a person. Implementations
// must bound their own latency.
type PersonFetcher interface {
	Fetch(ctx context.Context, id string) (models.Person, error)
}

// OrderService keeps orders and their person snapshots consistent. Writes
// fetch referenced persons from the directory before touching the store.
type OrderService struct {
	store   Store
	persons PersonFetcher
	log     *logger.Logger
}

// NewOrderService wires the service to its store and person directory.
func NewOrderService(s Store, persons PersonFetcher, log *logger.Logger) *OrderService {
	return &OrderService{
		store:   s,
		persons: persons,
		log:     log.With("service", "OrderService"),
	}
}

// Create normalizes the input, fetches every distinct referenced person
// concurrently and persists the order with their snapshots. Nothing is written
// if any fetch fails.
//
// A non-empty idemKey that already produced an order returns that order with
// created=false, without fetching anything.
func (s *OrderService) Create(ctx context.Context, input models.OrderInput, idemKey string) (*models.Order, bool, error) {
	if err := input.Validate(); err != nil {
		return nil, false, apierr.BadRequest(err)
	}

	if idemKey != "" {
		order, err := s.store.FindByIdempotencyKey(idemKey)
		if err == nil {
			return order, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, s.storeErr("create order", err)
		}
	}

	input = input.Normalize()
	persons, err := s.fetchAll(ctx, models.PersonIDs(input))
	if err != nil {
		return nil, false, err
	}

	order, created, err := s.store.Create(input, persons, idemKey)
	if err != nil {
		return nil, false, s.storeErr("create order", err)
	}
	if created {
		s.log.Info("order created", "order_id", order.OrderID, "persons", len(persons))
	}
	return order, created, nil
}

// List returns every order resolved against current snapshots.
func (s *OrderService) List(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.List()
	if err != nil {
		return nil, s.storeErr("list orders", err)
	}
	return orders, nil
}

// Get returns one resolved order.
func (s *OrderService) Get(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("order %s not found", id))
		}
		return nil, s.storeErr("get order", err)
	}
	return order, nil
}

// Update applies a partial change to an existing order.
//
// Only roles the patch moves to a different person are fetched. Roles that
// stay put keep their current snapshot, which is kept fresh by change
// notifications rather than by order writes.
func (s *OrderService) Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	if err := patch.Validate(); err != nil {
		return nil, apierr.BadRequest(err)
	}

	current, err := s.store.GetInput(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.BadRequest(fmt.Errorf("can't update non-existing order %s", id))
		}
		return nil, s.storeErr("update order", err)
	}

	persons, err := s.fetchAll(ctx, patch.ChangedPersonIDs(current.OrderInput))
	if err != nil {
		return nil, err
	}

	order, err := s.store.Update(id, patch, persons)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.BadRequest(fmt.Errorf("can't update non-existing order %s", id))
		}
		return nil, s.storeErr("update order", err)
	}
	s.log.Info("order updated", "order_id", id, "fetched_persons", len(persons))
	return order, nil
}

// Delete removes one order and returns its last known state.
func (s *OrderService) Delete(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.DeleteOne(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("order %s not found", id))
		}
		return nil, s.storeErr("delete order", err)
	}
	s.log.Info("order deleted", "order_id", id)
	return order, nil
}

// DeleteAll removes every order and releases their idempotency keys.
func (s *OrderService) DeleteAll(ctx context.Context) error {
	if err := s.store.DeleteAll(); err != nil {
		return s.storeErr("delete all orders", err)
	}
	s.log.Info("all orders deleted")
	return nil
}

// HandlePersonChanged refreshes the snapshot of personID from the directory.
// Orders are not touched: they join against the snapshot on read. Applying
// the same notification twice leaves the same state as applying it once.
func (s *OrderService) HandlePersonChanged(ctx context.Context, eventID, personID string) error {
	p, err := s.persons.Fetch(ctx, personID)
	if err != nil {
		return fmt.Errorf("refresh person %s: %w", personID, err)
	}
	if err := s.store.UpsertPerson(p); err != nil {
		return fmt.Errorf("refresh person %s: %w", personID, err)
	}
	s.log.Info("person snapshot refreshed", "event_id", eventID, "person_id", personID)
	return nil
}

// HandlePersonDeleted removes the snapshot of personID and every order that
// references it in any role. Unknown persons are a no-op.
func (s *OrderService) HandlePersonDeleted(ctx context.Context, eventID, personID string) error {
	removed, err := s.store.DeletePerson(personID)
	if err != nil {
		return fmt.Errorf("delete person %s: %w", personID, err)
	}
	s.log.Warn("person deleted, cascaded orders",
		"event_id", eventID,
		"person_id", personID,
		"removed_orders", removed,
	)
	return nil
}

// fetchAll fetches ids concurrently. The first failure cancels the rest and
// is returned as an upstream error.
func (s *OrderService) fetchAll(ctx context.Context, ids []string) ([]models.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	persons := make([]models.Person, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			p, err := s.persons.Fetch(gctx, id)
			if err != nil {
				return err
			}
			persons[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("person fetch failed", "person_ids", ids, "error", err)
		return nil, apierr.Upstream(err)
	}
	return persons, nil
}

func (s *OrderService) storeErr(op string, err error) error {
	if errors.Is(err, store.ErrDanglingReference) {
		s.log.Error("integrity violation", "op", op, "error", err)
		return apierr.Integrity(err)
	}
	s.log.Error("store failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}
