package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Totals and prices go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// ErrInvalidInput is wrapped by every validation failure in this package.
var ErrInvalidInput = errors.New("invalid order input")

// OrderItem is a single line of an order. It has no lifecycle of its own and
// is always written and read together with its order.
type OrderItem struct {
	ItemID    string          `json:"itemID" binding:"required"`
	ProductID string          `json:"productID" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	ItemPrice decimal.Decimal `json:"itemPrice"`
}

// UnmarshalJSON rejects items without an itemPrice, which would otherwise
// decode as a zero price.
func (it *OrderItem) UnmarshalJSON(data []byte) error {
	type plain OrderItem
	var raw struct {
		plain
		ItemPrice *decimal.Decimal `json:"itemPrice"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ItemPrice == nil {
		return fmt.Errorf("%w: itemPrice is required", ErrInvalidInput)
	}
	*it = OrderItem(raw.plain)
	it.ItemPrice = *raw.ItemPrice
	return nil
}

// OrderInput is the write-side form of an order. Person roles are held as
// directory identifiers rather than resolved snapshots.
type OrderInput struct {
	OrderDate    string          `json:"orderDate"`
	SoldToID     string          `json:"soldToID"`
	BillToID     string          `json:"billToID,omitempty"`
	ShipToID     string          `json:"shipToID,omitempty"`
	OrderValue   decimal.Decimal `json:"orderValue"`
	TaxValue     decimal.Decimal `json:"taxValue"`
	CurrencyCode string          `json:"currencyCode"`
	Items        []OrderItem     `json:"items"`
}

// Normalize defaults BillToID and ShipToID to SoldToID when they are absent.
// It is applied once, on creation, and the result is what gets persisted.
func (in OrderInput) Normalize() OrderInput {
	if in.BillToID == "" {
		in.BillToID = in.SoldToID
	}
	if in.ShipToID == "" {
		in.ShipToID = in.SoldToID
	}
	return in
}

// PersonIDs returns the distinct person identifiers referenced by the given
// inputs, in first-seen order. Empty role identifiers are skipped.
func PersonIDs(inputs ...OrderInput) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, in := range inputs {
		for _, id := range []string{in.SoldToID, in.BillToID, in.ShipToID} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// References reports whether any of the three roles points at personID.
func (in OrderInput) References(personID string) bool {
	return in.SoldToID == personID || in.BillToID == personID || in.ShipToID == personID
}

// Validate checks the rules a complete input must satisfy.
func (in OrderInput) Validate() error {
	switch {
	case in.OrderDate == "":
		return fmt.Errorf("%w: orderDate is required", ErrInvalidInput)
	case in.SoldToID == "":
		return fmt.Errorf("%w: soldToID is required", ErrInvalidInput)
	case in.CurrencyCode == "":
		return fmt.Errorf("%w: currencyCode is required", ErrInvalidInput)
	case len(in.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	case in.OrderValue.IsNegative():
		return fmt.Errorf("%w: orderValue must not be negative", ErrInvalidInput)
	case in.TaxValue.IsNegative():
		return fmt.Errorf("%w: taxValue must not be negative", ErrInvalidInput)
	}
	return validateItems(in.Items)
}

func validateItems(items []OrderItem) error {
	for i, it := range items {
		if it.ItemID == "" || it.ProductID == "" {
			return fmt.Errorf("%w: item %d needs itemID and productID", ErrInvalidInput, i)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidInput, i)
		}
		if it.ItemPrice.IsNegative() {
			return fmt.Errorf("%w: item %d itemPrice must not be negative", ErrInvalidInput, i)
		}
	}
	return nil
}

// OrderPatch is a partial OrderInput. A nil field leaves the stored value
// untouched.
//
// Create requests are decoded into an OrderPatch as well and promoted with
// Input, so that missing required numeric fields can be told apart from
// zero values.
type OrderPatch struct {
	OrderDate    *string          `json:"orderDate,omitempty"`
	SoldToID     *string          `json:"soldToID,omitempty"`
	BillToID     *string          `json:"billToID,omitempty"`
	ShipToID     *string          `json:"shipToID,omitempty"`
	OrderValue   *decimal.Decimal `json:"orderValue,omitempty"`
	TaxValue     *decimal.Decimal `json:"taxValue,omitempty"`
	CurrencyCode *string          `json:"currencyCode,omitempty"`
	Items        []OrderItem      `json:"items,omitempty" binding:"omitempty,min=1,dive"`
}

// Input promotes a patch to a complete OrderInput, failing when a required
// field is missing.
func (p OrderPatch) Input() (OrderInput, error) {
	if p.OrderValue == nil {
		return OrderInput{}, fmt.Errorf("%w: orderValue is required", ErrInvalidInput)
	}
	if p.TaxValue == nil {
		return OrderInput{}, fmt.Errorf("%w: taxValue is required", ErrInvalidInput)
	}
	in := p.Apply(OrderInput{})
	if err := in.Validate(); err != nil {
		return OrderInput{}, err
	}
	return in, nil
}

// Validate checks only the fields present in the patch.
func (p OrderPatch) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"orderDate", p.OrderDate},
		{"soldToID", p.SoldToID},
		{"billToID", p.BillToID},
		{"shipToID", p.ShipToID},
		{"currencyCode", p.CurrencyCode},
	}
	for _, f := range fields {
		if f.value != nil && *f.value == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, f.name)
		}
	}
	if p.OrderValue != nil && p.OrderValue.IsNegative() {
		return fmt.Errorf("%w: orderValue must not be negative", ErrInvalidInput)
	}
	if p.TaxValue != nil && p.TaxValue.IsNegative() {
		return fmt.Errorf("%w: taxValue must not be negative", ErrInvalidInput)
	}
	if p.Items != nil && len(p.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	return validateItems(p.Items)
}

// Apply merges the patch onto in and returns the result.
func (p OrderPatch) Apply(in OrderInput) OrderInput {
	if p.OrderDate != nil {
		in.OrderDate = *p.OrderDate
	}
	if p.SoldToID != nil {
		in.SoldToID = *p.SoldToID
	}
	if p.BillToID != nil {
		in.BillToID = *p.BillToID
	}
	if p.ShipToID != nil {
		in.ShipToID = *p.ShipToID
	}
	if p.OrderValue != nil {
		in.OrderValue = *p.OrderValue
	}
	if p.TaxValue != nil {
		in.TaxValue = *p.TaxValue
	}
	if p.CurrencyCode != nil {
		in.CurrencyCode = *p.CurrencyCode
	}
	if p.Items != nil {
		in.Items = append([]OrderItem(nil), p.Items...)
	}
	return in
}

// ChangedPersonIDs returns the distinct role identifiers that the patch sets
// to a value different from the one stored in current.
func (p OrderPatch) ChangedPersonIDs(current OrderInput) []string {
	var changed OrderInput
	if p.SoldToID != nil && *p.SoldToID != current.SoldToID {
		changed.SoldToID = *p.SoldToID
	}
	if p.BillToID != nil && *p.BillToID != current.BillToID {
		changed.BillToID = *p.BillToID
	}
	if p.ShipToID != nil && *p.ShipToID != current.ShipToID {
		changed.ShipToID = *p.ShipToID
	}
	return PersonIDs(changed)
}

// StoredOrder is the persisted record of an order: its identifier, the
// normalized input and bookkeeping timestamps.
type StoredOrder struct {
	ID string `json:"orderID"`
	OrderInput
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Order is the read-side aggregate: a stored order with its three person
// roles resolved against the snapshot store.
type Order struct {
	OrderID      string          `json:"orderID"`
	OrderDate    string          `json:"orderDate"`
	SoldTo       Person          `json:"soldTo"`
	BillTo       Person          `json:"billTo"`
	ShipTo       Person          `json:"shipTo"`
	OrderValue   decimal.Decimal `json:"orderValue"`
	TaxValue     decimal.Decimal `json:"taxValue"`
	CurrencyCode string          `json:"currencyCode"`
	Items        []OrderItem     `json:"items"`
}

// Resolve joins a stored order with person snapshots. It returns the first
// role identifier without a snapshot when resolution is incomplete.
func Resolve(rec StoredOrder, persons map[string]Person) (Order, string, bool) {
	roles := [3]string{rec.SoldToID, rec.BillToID, rec.ShipToID}
	var resolved [3]Person
	for i, id := range roles {
		p, ok := persons[id]
		if !ok {
			return Order{}, id, false
		}
		resolved[i] = p
	}
	items := rec.Items
	if items == nil {
		items = []OrderItem{}
	}
	return Order{
		OrderID:      rec.ID,
		OrderDate:    rec.OrderDate,
		SoldTo:       resolved[0],
		BillTo:       resolved[1],
		ShipTo:       resolved[2],
		OrderValue:   rec.OrderValue,
		TaxValue:     rec.TaxValue,
		CurrencyCode: rec.CurrencyCode,
		Items:        items,
	}, "", true
}
