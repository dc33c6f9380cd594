// Package events consumes person change notifications and hands them to the
// order service for repair.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypePersonChanged = "person.changed"
	TypePersonDeleted = "person.deleted"
	TypePersonCreated = "person.created"
)

// ErrMalformedEvent is returned by Decode for envelopes that are not JSON or
// lack an id, type or person id.
var ErrMalformedEvent = errors.New("malformed person event")

// Event is a CloudEvents envelope announcing a change to one person.
type Event struct {
	SpecVersion     string    `json:"specversion"`
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Type            string    `json:"type"`
	DataContentType string    `json:"datacontenttype"`
	Data            EventData `json:"data"`
}

// EventData is the payload of a person event.
type EventData struct {
	PersonID string `json:"personid"`
}

// Handler repairs local state after a person notification. Both methods must
// be idempotent: delivery is at-least-once.
type Handler interface {
	HandlePersonChanged(ctx context.Context, eventID, personID string) error
	HandlePersonDeleted(ctx context.Context, eventID, personID string) error
}

// Decode parses a CloudEvents JSON envelope.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" || ev.Data.PersonID == "" {
		return Event{}, fmt.Errorf("%w: id, type and data.personid are required", ErrMalformedEvent)
	}
	return ev, nil
}

// Dispatch routes ev to h. It reports whether the event type was handled;
// person.created and unknown types are skipped, since no order can reference
// a person it has never fetched.
func Dispatch(ctx context.Context, h Handler, ev Event) (bool, error) {
	switch ev.Type {
	case TypePersonChanged:
		return true, h.HandlePersonChanged(ctx, ev.ID, ev.Data.PersonID)
	case TypePersonDeleted:
		return true, h.HandlePersonDeleted(ctx, ev.ID, ev.Data.PersonID)
	default:
		return false, nil
	}
}
