package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	in := OrderInput{SoldToID: "P1"}.Normalize()
	assert.Equal(t, "P1", in.BillToID)
	assert.Equal(t, "P1", in.ShipToID)

	in = OrderInput{SoldToID: "P1", BillToID: "P2"}.Normalize()
	assert.Equal(t, "P2", in.BillToID)
	assert.Equal(t, "P1", in.ShipToID)
}

func TestPersonIDs(t *testing.T) {
	ids := PersonIDs(
		OrderInput{SoldToID: "P1", BillToID: "P2", ShipToID: "P1"},
		OrderInput{SoldToID: "P3", BillToID: "P2"},
	)
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids)
	assert.Empty(t, PersonIDs())
}

func TestChangedPersonIDs(t *testing.T) {
	current := OrderInput{SoldToID: "P1", BillToID: "P1", ShipToID: "P2"}

	patch := OrderPatch{SoldToID: strPtr("P1"), BillToID: strPtr("P3"), ShipToID: strPtr("P3")}
	assert.Equal(t, []string{"P3"}, patch.ChangedPersonIDs(current))

	assert.Empty(t, OrderPatch{}.ChangedPersonIDs(current))
}

func TestApplyLeavesUnsetFields(t *testing.T) {
	current := OrderInput{
		OrderDate:    "2021-07-17",
		SoldToID:     "P1",
		BillToID:     "P1",
		ShipToID:     "P1",
		OrderValue:   decimal.NewFromInt(20),
		CurrencyCode: "EUR",
		Items:        []OrderItem{{ItemID: "I1", ProductID: "PR1", Quantity: 1}},
	}
	value := decimal.NewFromInt(30)
	got := OrderPatch{ShipToID: strPtr("P2"), OrderValue: &value}.Apply(current)

	assert.Equal(t, "P2", got.ShipToID)
	assert.Equal(t, "P1", got.BillToID)
	assert.True(t, value.Equal(got.OrderValue))
	assert.Equal(t, current.Items, got.Items)
	assert.Equal(t, "EUR", got.CurrencyCode)
}

func TestPatchInputRequiresTotals(t *testing.T) {
	items := []OrderItem{{ItemID: "I1", ProductID: "PR1", Quantity: 2, ItemPrice: decimal.NewFromInt(10)}}
	p := OrderPatch{
		OrderDate:    strPtr("2021-07-17"),
		SoldToID:     strPtr("P1"),
		CurrencyCode: strPtr("EUR"),
		Items:        items,
	}
	_, err := p.Input()
	assert.ErrorIs(t, err, ErrInvalidInput)

	zero := decimal.Zero
	p.OrderValue, p.TaxValue = &zero, &zero
	in, err := p.Input()
	require.NoError(t, err)
	assert.Equal(t, "P1", in.SoldToID)
	assert.Empty(t, in.BillToID, "defaulting happens in the service, not on decode")
}

func TestPatchValidate(t *testing.T) {
	neg := decimal.NewFromInt(-1)
	assert.ErrorIs(t, OrderPatch{SoldToID: strPtr("")}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, OrderPatch{TaxValue: &neg}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, OrderPatch{Items: []OrderItem{}}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, OrderPatch{Items: []OrderItem{{ItemID: "I", ProductID: "P", Quantity: 1, ItemPrice: neg}}}.Validate(), ErrInvalidInput)
	assert.NoError(t, OrderPatch{}.Validate())
}

func TestResolve(t *testing.T) {
	rec := StoredOrder{ID: "o1", OrderInput: OrderInput{SoldToID: "P1", BillToID: "P2", ShipToID: "P1"}}
	persons := map[string]Person{"P1": {ID: "P1", FirstName: "Ada"}, "P2": {ID: "P2", FirstName: "Bob"}}

	order, _, ok := Resolve(rec, persons)
	require.True(t, ok)
	assert.Equal(t, "o1", order.OrderID)
	assert.Equal(t, "Bob", order.BillTo.FirstName)
	assert.NotNil(t, order.Items)

	delete(persons, "P2")
	_, missing, ok := Resolve(rec, persons)
	assert.False(t, ok)
	assert.Equal(t, "P2", missing)
}

func TestMoneyIsEncodedAsNumber(t *testing.T) {
	data, err := json.Marshal(OrderItem{ItemID: "I1", ProductID: "PR1", Quantity: 1, ItemPrice: decimal.RequireFromString("9.99")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"itemID":"I1","productID":"PR1","quantity":1,"itemPrice":9.99}`, string(data))
}

func TestItemRequiresPrice(t *testing.T) {
	var it OrderItem
	err := json.Unmarshal([]byte(`{"itemID":"I1","productID":"PR1","quantity":2}`), &it)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = json.Unmarshal([]byte(`{"itemID":"I1","productID":"PR1","quantity":2,"itemPrice":0}`), &it)
	require.NoError(t, err)
	assert.Equal(t, "I1", it.ItemID)
	assert.Equal(t, 2, it.Quantity)
	assert.True(t, it.ItemPrice.IsZero())

	var p OrderPatch
	err = json.Unmarshal([]byte(`{"items":[{"itemID":"I1","productID":"PR1","quantity":1,"itemPrice":"9.99"},{"itemID":"I2","productID":"PR2","quantity":1}]}`), &p)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPatchValidateReportsFirstEmptyField(t *testing.T) {
	p := OrderPatch{OrderDate: strPtr(""), SoldToID: strPtr(""), CurrencyCode: strPtr("")}
	for i := 0; i < 20; i++ {
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orderDate must not be empty")
	}
}
