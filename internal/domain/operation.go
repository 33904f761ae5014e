package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity names a synchronized collection.
type Entity string

const (
	EntityCart      Entity = "cart"
	EntityBookmarks Entity = "bookmarks"
)

// OperationKind is the remote mutation an operation replays.
type OperationKind string

const (
	OpAdd    OperationKind = "add"
	OpRemove OperationKind = "remove"
	OpUpdate OperationKind = "update"
	OpClear  OperationKind = "clear"
)

// OperationPayload carries the arguments of a remote mutation. Fields not
// used by a kind are left zero.
type OperationPayload struct {
	Product   *Product `json:"product,omitempty"`
	ProductID string   `json:"productId,omitempty"`
	Quantity  int      `json:"quantity,omitempty"`
}

// Operation is a pending remote mutation. It lives in the push pipeline and,
// when the network is unavailable, in the offline queue.
type Operation struct {
	ID           string           `json:"id"`
	Entity       Entity           `json:"entity"`
	Kind         OperationKind    `json:"kind"`
	Payload      OperationPayload `json:"payload"`
	AttemptCount int              `json:"attemptCount"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// NewOperation stamps a new operation with an ID and creation time.
func NewOperation(entity Entity, kind OperationKind, payload OperationPayload) Operation {
	return Operation{
		ID:        uuid.New().String(),
		Entity:    entity,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// ProductRef returns the product this operation touches ("" for clear).
func (o Operation) ProductRef() string {
	if o.Payload.Product != nil {
		return o.Payload.Product.ID
	}
	return o.Payload.ProductID
}

// Validate checks that the payload matches the kind.
func (o Operation) Validate() error {
	switch o.Entity {
	case EntityCart, EntityBookmarks:
	default:
		return fmt.Errorf("invalid entity: %q", o.Entity)
	}
	switch o.Kind {
	case OpAdd:
		if o.Payload.Product == nil {
			return fmt.Errorf("%s %s: product is required", o.Entity, o.Kind)
		}
	case OpRemove:
		if o.Payload.ProductID == "" {
			return fmt.Errorf("%s %s: productId is required", o.Entity, o.Kind)
		}
	case OpUpdate:
		if o.Entity != EntityCart {
			return fmt.Errorf("update is only valid for the cart")
		}
		if o.Payload.ProductID == "" {
			return fmt.Errorf("%s %s: productId is required", o.Entity, o.Kind)
		}
	case OpClear:
	default:
		return fmt.Errorf("invalid operation kind: %q", o.Kind)
	}
	return nil
}

func (o Operation) String() string {
	b, _ := json.Marshal(o.Payload)
	return fmt.Sprintf("%s/%s %s", o.Entity, o.Kind, b)
}
