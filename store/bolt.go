// Package store provides the BoltDB-backed aggregate store for orders and
// person snapshots.
//
// Orders and person snapshots live in separate buckets. An order record holds
// only the identifiers of its sold-to, bill-to and ship-to persons; reads join
// those identifiers against the persons bucket. A person change therefore
// needs a single snapshot upsert, no matter how many orders reference it.
//
// Atomicity
// ---------
// BoltDB allows exactly one read-write transaction at a time and every
// transaction may touch any number of buckets. Every write that spans an order
// and its snapshots runs inside one db.Update call:
//   - Create and Update upsert the snapshots, write the order and verify that
//     every role of the written order resolves, all before commit. A failure at
//     any step rolls the whole transaction back.
//   - DeletePerson removes the snapshot and every order that references it in
//     the same transaction.
//
// A reader can therefore never observe an order whose snapshot write has not
// landed yet.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/arkantrust/order-service/models"
)

const (
	ordersBucket      = "orders"
	personsBucket     = "persons"
	idempotencyBucket = "idempotency"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrDanglingReference is returned when an order references a person
	// with no snapshot. It always indicates corrupted data.
	ErrDanglingReference = errors.New("order references missing person snapshot")
)

// Store wraps a BoltDB database holding orders and person snapshots.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (or creates) a BoltDB database at the given path and ensures all
// buckets exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ordersBucket, personsBucket, idempotencyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new order together with the person snapshots it
// references.
//
// The input must already be normalized. When idemKey is non-empty and was
// used by an order that still exists, that order is returned unchanged with
// created=false and nothing is written.
func (s *Store) Create(input models.OrderInput, persons []models.Person, idemKey string) (*models.Order, bool, error) {
	var result models.Order
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		if idemKey != "" {
			existing, err := lookupIdempotent(tx, idemKey)
			if err == nil {
				result = *existing
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		if err := putPersons(tx, persons); err != nil {
			return err
		}

		now := s.now()
		rec := models.StoredOrder{
			ID:         uuid.NewString(),
			OrderInput: input,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := putOrder(tx, rec); err != nil {
			return err
		}

		order, err := resolve(tx, rec)
		if err != nil {
			return err
		}

		if idemKey != "" {
			b := tx.Bucket([]byte(idempotencyBucket))
			if err := b.Put([]byte(idemKey), []byte(rec.ID)); err != nil {
				return err
			}
		}

		result = *order
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &result, created, nil
}

// FindByIdempotencyKey returns the order created under key.
// Returns ErrNotFound if the key is unknown or its order no longer exists.
func (s *Store) FindByIdempotencyKey(key string) (*models.Order, error) {
	var result *models.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		order, err := lookupIdempotent(tx, key)
		result = order
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns every order with its person roles resolved.
// Returns ErrDanglingReference if any order cannot be resolved.
func (s *Store) List() ([]models.Order, error) {
	var orders []models.Order

	err := s.db.View(func(tx *bolt.Tx) error {
		var recs []models.StoredOrder
		err := tx.Bucket([]byte(ordersBucket)).ForEach(func(k, v []byte) error {
			var rec models.StoredOrder
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
		if err != nil {
			return err
		}

		inputs := make([]models.OrderInput, len(recs))
		for i, rec := range recs {
			inputs[i] = rec.OrderInput
		}
		persons, err := getPersons(tx, models.PersonIDs(inputs...))
		if err != nil {
			return err
		}

		for _, rec := range recs {
			order, missing, ok := models.Resolve(rec, persons)
			if !ok {
				return danglingErr(rec.ID, missing)
			}
			orders = append(orders, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// Get retrieves a single order by ID with its person roles resolved.
// Returns ErrNotFound if the order does not exist.
func (s *Store) Get(id string) (*models.Order, error) {
	var result *models.Order

	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getOrder(tx, id)
		if err != nil {
			return err
		}
		result, err = resolve(tx, *rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetInput retrieves the stored, unresolved form of an order.
// Returns ErrNotFound if the order does not exist.
func (s *Store) GetInput(id string) (*models.StoredOrder, error) {
	var result *models.StoredOrder

	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getOrder(tx, id)
		result = rec
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Update merges patch onto the stored order and upserts persons in the same
// transaction. Returns ErrNotFound if the order does not exist; the update is
// never an upsert.
func (s *Store) Update(id string, patch models.OrderPatch, persons []models.Person) (*models.Order, error) {
	var result *models.Order

	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getOrder(tx, id)
		if err != nil {
			return err
		}

		if err := putPersons(tx, persons); err != nil {
			return err
		}

		rec.OrderInput = patch.Apply(rec.OrderInput)
		rec.UpdatedAt = s.now()
		if err := putOrder(tx, *rec); err != nil {
			return err
		}

		result, err = resolve(tx, *rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteOne removes an order and returns its last resolved state.
// Returns ErrNotFound if the order does not exist. Person snapshots are left
// in place.
func (s *Store) DeleteOne(id string) (*models.Order, error) {
	var result *models.Order

	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getOrder(tx, id)
		if err != nil {
			return err
		}
		result, err = resolve(tx, *rec)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(ordersBucket)).Delete([]byte(id))
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteAll removes every order and every idempotency key. Person snapshots
// are left in place.
func (s *Store) DeleteAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ordersBucket, idempotencyBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertPerson replaces the snapshot for p.ID. Last write wins.
func (s *Store) UpsertPerson(p models.Person) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putPersons(tx, []models.Person{p})
	})
}

// GetPerson returns the snapshot stored for personID.
func (s *Store) GetPerson(personID string) (*models.Person, error) {
	var result *models.Person
	err := s.db.View(func(tx *bolt.Tx) error {
		persons, err := getPersons(tx, []string{personID})
		if err != nil {
			return err
		}
		p, ok := persons[personID]
		if !ok {
			return ErrNotFound
		}
		result = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePerson removes the snapshot for personID and every order referencing
// it in any role. It returns the identifiers of the removed orders.
//
// Deleting an unknown person is not an error, so redelivered notifications
// are harmless.
func (s *Store) DeletePerson(personID string) ([]string, error) {
	var removed []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(personsBucket)).Delete([]byte(personID)); err != nil {
			return err
		}

		orders := tx.Bucket([]byte(ordersBucket))
		err := orders.ForEach(func(k, v []byte) error {
			var rec models.StoredOrder
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.References(personID) {
				removed = append(removed, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Keys are collected first; bolt cursors must not be mutated during
		// ForEach.
		gone := make(map[string]struct{}, len(removed))
		for _, id := range removed {
			if err := orders.Delete([]byte(id)); err != nil {
				return err
			}
			gone[id] = struct{}{}
		}
		return releaseKeys(tx, gone)
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

func releaseKeys(tx *bolt.Tx, orderIDs map[string]struct{}) error {
	if len(orderIDs) == 0 {
		return nil
	}
	b := tx.Bucket([]byte(idempotencyBucket))
	var stale [][]byte
	err := b.ForEach(func(k, v []byte) error {
		if _, ok := orderIDs[string(v)]; ok {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func lookupIdempotent(tx *bolt.Tx, key string) (*models.Order, error) {
	v := tx.Bucket([]byte(idempotencyBucket)).Get([]byte(key))
	if v == nil {
		return nil, ErrNotFound
	}
	rec, err := getOrder(tx, string(v))
	if err != nil {
		// The order was deleted since; the key is free for reuse.
		return nil, err
	}
	return resolve(tx, *rec)
}

func getOrder(tx *bolt.Tx, id string) (*models.StoredOrder, error) {
	v := tx.Bucket([]byte(ordersBucket)).Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var rec models.StoredOrder
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func putOrder(tx *bolt.Tx, rec models.StoredOrder) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(ordersBucket)).Put([]byte(rec.ID), data)
}

func putPersons(tx *bolt.Tx, persons []models.Person) error {
	b := tx.Bucket([]byte(personsBucket))
	for _, p := range persons {
		if p.ID == "" {
			return fmt.Errorf("person snapshot without id")
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(p.ID), data); err != nil {
			return err
		}
	}
	return nil
}

func getPersons(tx *bolt.Tx, ids []string) (map[string]models.Person, error) {
	b := tx.Bucket([]byte(personsBucket))
	persons := make(map[string]models.Person, len(ids))
	for _, id := range ids {
		v := b.Get([]byte(id))
		if v == nil {
			continue
		}
		var p models.Person
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, err
		}
		persons[id] = p
	}
	return persons, nil
}

func resolve(tx *bolt.Tx, rec models.StoredOrder) (*models.Order, error) {
	persons, err := getPersons(tx, models.PersonIDs(rec.OrderInput))
	if err != nil {
		return nil, err
	}
	order, missing, ok := models.Resolve(rec, persons)
	if !ok {
		return nil, danglingErr(rec.ID, missing)
	}
	return &order, nil
}

func danglingErr(orderID, personID string) error {
	return fmt.Errorf("%w: order %s, person %s", ErrDanglingReference, orderID, personID)
}
