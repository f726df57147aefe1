package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventCreateOrder    EventType = "CreateOrder"
	EventUpdateOrder    EventType = "UpdateOrder"
	EventCreateCustomer EventType = "CreateCustomer"
	EventUpdateCustomer EventType = "UpdateCustomer"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreateOrder, EventUpdateOrder, EventCreateCustomer, EventUpdateCustomer:
		return true
	}
	return false
}

// IsOrderEvent reports whether the event carries an order payload.
func (t EventType) IsOrderEvent() bool {
	return t == EventCreateOrder || t == EventUpdateOrder
}

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

// EventMessage is the wire format consumed from the work queue. Immutable
// in flight except RetryCount, which the loop increments on each requeue.
type EventMessage struct {
	MessageID  string       `json:"messageId"`
	Event      EventType    `json:"event"`
	Payload    EventPayload `json:"payload"`
	Timestamp  time.Time    `json:"timestamp"`
	RetryCount int          `json:"retryCount,omitempty"`
}

type EventPayload struct {
	Customer *Customer `json:"customer,omitempty"`
	Order    *Order    `json:"order,omitempty"`
}

// Customer is keyed by the caller-assigned ExternalID; the record store
// holds at most one record per distinct value.
type Customer struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type Order struct {
	ExternalOrderID string      `json:"externalOrderId"`
	Amount          Money       `json:"amount"`
	Status          OrderStatus `json:"status"`
	Items           []OrderItem `json:"items"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
}

// ParseEventMessage decodes and validates a raw queue delivery. Any failure
// here is permanent: a payload that does not parse today will not parse on
// redelivery either. When the JSON decoded but validation failed, the
// decoded message is returned alongside the error so the caller can still
// record the outcome against its messageId.
func ParseEventMessage(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := ValidateEventMessage(&msg); err != nil {
		return &msg, err
	}
	return &msg, nil
}
