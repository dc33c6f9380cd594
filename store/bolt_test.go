package store_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkantrust/order-service/models"
	"github.com/arkantrust/order-service/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func person(id, first string) models.Person {
	return models.Person{ID: id, FirstName: first, LastName: "Doe", City: "Berlin"}
}

func input(sold, bill, ship string) models.OrderInput {
	return models.OrderInput{
		OrderDate:    "2021-07-17",
		SoldToID:     sold,
		BillToID:     bill,
		ShipToID:     ship,
		OrderValue:   decimal.NewFromInt(20),
		TaxValue:     decimal.NewFromInt(2),
		CurrencyCode: "EUR",
		Items: []models.OrderItem{
			{ItemID: "I1", ProductID: "PR1", Quantity: 2, ItemPrice: decimal.NewFromInt(10)},
		},
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.List()
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestCreateResolvesRoles(t *testing.T) {
	s := newTestStore(t)

	order, created, err := s.Create(input("P1", "P2", "P1"), []models.Person{person("P1", "Ada"), person("P2", "Bob")}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, "Ada", order.SoldTo.FirstName)
	assert.Equal(t, "Bob", order.BillTo.FirstName)
	assert.Equal(t, "Ada", order.ShipTo.FirstName)

	got, err := s.Get(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order, got)

	rec, err := s.GetInput(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "P1", rec.SoldToID)
	assert.Equal(t, "P2", rec.BillToID)
	assert.Equal(t, "P1", rec.ShipToID)
}

func TestCreateRollsBackOnMissingSnapshot(t *testing.T) {
	s := newTestStore(t)

	// P2 is referenced but no snapshot is supplied.
	_, _, err := s.Create(input("P1", "P2", "P1"), []models.Person{person("P1", "Ada")}, "")
	require.ErrorIs(t, err, store.ErrDanglingReference)

	items, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.GetPerson("P1")
	assert.ErrorIs(t, err, store.ErrNotFound, "snapshot upsert must roll back with the order")
}

func TestCreateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	persons := []models.Person{person("P1", "Ada")}

	first, created, err := s.Create(input("P1", "P1", "P1"), persons, "key-1")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.Create(input("P1", "P1", "P1"), persons, "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.OrderID, second.OrderID)

	found, err := s.FindByIdempotencyKey("key-1")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, found.OrderID)

	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCreateIdempotencyKeyReleasedAfterDelete(t *testing.T) {
	s := newTestStore(t)
	persons := []models.Person{person("P1", "Ada")}

	first, _, err := s.Create(input("P1", "P1", "P1"), persons, "key-1")
	require.NoError(t, err)
	_, err = s.DeleteOne(first.OrderID)
	require.NoError(t, err)

	_, err = s.FindByIdempotencyKey("key-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	second, created, err := s.Create(input("P1", "P1", "P1"), persons, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.OrderID, second.OrderID)
}

func TestUpdateMergesPatch(t *testing.T) {
	s := newTestStore(t)
	order, _, err := s.Create(input("P1", "P1", "P1"), []models.Person{person("P1", "Ada")}, "")
	require.NoError(t, err)

	ship := "P2"
	currency := "USD"
	patch := models.OrderPatch{ShipToID: &ship, CurrencyCode: &currency}
	updated, err := s.Update(order.OrderID, patch, []models.Person{person("P2", "Bob")})
	require.NoError(t, err)

	assert.Equal(t, "P1", updated.SoldTo.ID)
	assert.Equal(t, "P1", updated.BillTo.ID)
	assert.Equal(t, "P2", updated.ShipTo.ID)
	assert.Equal(t, "USD", updated.CurrencyCode)
	assert.Equal(t, order.Items, updated.Items)
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update("nonexistent", models.OrderPatch{}, []models.Person{person("P9", "Zed")})
	require.ErrorIs(t, err, store.ErrNotFound)

	// No snapshot leaks out of the rolled back transaction.
	_, err = s.GetPerson("P9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRollsBackOnMissingSnapshot(t *testing.T) {
	s := newTestStore(t)
	order, _, err := s.Create(input("P1", "P1", "P1"), []models.Person{person("P1", "Ada")}, "")
	require.NoError(t, err)

	bill := "P3"
	_, err = s.Update(order.OrderID, models.OrderPatch{BillToID: &bill}, nil)
	require.ErrorIs(t, err, store.ErrDanglingReference)

	rec, err := s.GetInput(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "P1", rec.BillToID)
}

func TestDeleteOneReturnsLastState(t *testing.T) {
	s := newTestStore(t)
	order, _, err := s.Create(input("P1", "P1", "P1"), []models.Person{person("P1", "Ada")}, "")
	require.NoError(t, err)

	deleted, err := s.DeleteOne(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order, deleted)

	_, err = s.Get(order.OrderID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.DeleteOne(order.OrderID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Snapshots outlive the orders that referenced them.
	_, err = s.GetPerson("P1")
	assert.NoError(t, err)
}

func TestDeleteAll(t *testing.T) {
	s := newTestStore(t)
	persons := []models.Person{person("P1", "Ada")}
	for i := 0; i < 3; i++ {
		_, _, err := s.Create(input("P1", "P1", "P1"), persons, "")
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteAll())

	items, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpsertPersonIsVisibleThroughOrders(t *testing.T) {
	s := newTestStore(t)
	order, _, err := s.Create(input("P1", "P1", "P1"), []models.Person{person("P1", "Ada")}, "")
	require.NoError(t, err)

	changed := person("P1", "Grace")
	require.NoError(t, s.UpsertPerson(changed))
	require.NoError(t, s.UpsertPerson(changed))

	got, err := s.Get(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.SoldTo.FirstName)
	assert.Equal(t, "Grace", got.BillTo.FirstName)
	assert.Equal(t, "Grace", got.ShipTo.FirstName)
}

func TestDeletePersonCascades(t *testing.T) {
	s := newTestStore(t)
	persons := []models.Person{person("P1", "Ada"), person("P2", "Bob")}

	a, _, err := s.Create(input("P1", "P1", "P1"), persons, "key-a")
	require.NoError(t, err)
	b, _, err := s.Create(input("P2", "P2", "P1"), persons, "")
	require.NoError(t, err)
	c, _, err := s.Create(input("P2", "P2", "P2"), persons, "")
	require.NoError(t, err)

	removed, err := s.DeletePerson("P1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.OrderID, b.OrderID}, removed)

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, c.OrderID, items[0].OrderID)

	_, err = s.GetPerson("P1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindByIdempotencyKey("key-a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Redelivery is a no-op.
	removed, err = s.DeletePerson("P1")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestListFailsOnDanglingReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	// Plant a corrupt record directly, bypassing the store's checks.
	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("orders"))
		if err != nil {
			return err
		}
		data, err := json.Marshal(models.StoredOrder{ID: "o1", OrderInput: input("ghost", "ghost", "ghost")})
		if err != nil {
			return err
		}
		return b.Put([]byte("o1"), data)
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := store.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.List()
	assert.True(t, errors.Is(err, store.ErrDanglingReference))
	_, err = s.Get("o1")
	assert.True(t, errors.Is(err, store.ErrDanglingReference))
}
