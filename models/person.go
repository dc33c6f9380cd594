// Package models defines the core domain types for the order service.
package models

// Person is a snapshot of a person record owned by the external person
// directory.
//
// The ID is assigned by the directory and is never generated locally. The
// order service only ever replaces a snapshot wholesale: either when an order
// write fetches the person, or when a person change notification is repaired.
type Person struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	StreetAddress string `json:"streetAddress"`
	HouseNumber   string `json:"houseNumber"`
	City          string `json:"city"`
	Zip           string `json:"zip"`
	Country       string `json:"country"`

	// ExtensionFields holds arbitrary key/value pairs the directory attaches
	// to a person. They are stored and returned untouched.
	ExtensionFields map[string]any `json:"extensionFields,omitempty"`
}
