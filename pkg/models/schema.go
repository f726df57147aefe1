package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEventMessage(msg *EventMessage) error {
	if msg == nil {
		return &ValidationError{
			Field:   "message",
			Message: "event message cannot be nil",
		}
	}

	if msg.MessageID == "" {
		return &ValidationError{
			Field:   "messageId",
			Message: "message ID is required",
		}
	}

	if !msg.Event.Valid() {
		return &ValidationError{
			Field:   "event",
			Message: fmt.Sprintf("unknown event type %q", string(msg.Event)),
		}
	}

	if msg.RetryCount < 0 {
		return &ValidationError{
			Field:   "retryCount",
			Message: "retry count cannot be negative",
		}
	}

	if msg.Event.IsOrderEvent() {
		if msg.Payload.Order == nil {
			return &ValidationError{
				Field:   "payload.order",
				Message: "order payload is required for order events",
			}
		}
		return validateOrder(msg.Payload.Order)
	}

	if msg.Payload.Customer == nil {
		return &ValidationError{
			Field:   "payload.customer",
			Message: "customer payload is required for customer events",
		}
	}
	return validateCustomer(msg.Payload.Customer)
}

func validateCustomer(c *Customer) error {
	if c.ExternalID == "" {
		return &ValidationError{
			Field:   "payload.customer.externalId",
			Message: "external ID is required",
		}
	}
	if c.Name == "" {
		return &ValidationError{
			Field:   "payload.customer.name",
			Message: "name is required",
		}
	}
	if c.Email == "" {
		return &ValidationError{
			Field:   "payload.customer.email",
			Message: "email is required",
		}
	}
	return nil
}

func validateOrder(o *Order) error {
	if o.ExternalOrderID == "" {
		return &ValidationError{
			Field:   "payload.order.externalOrderId",
			Message: "external order ID is required",
		}
	}
	if o.Amount < 0 {
		return &ValidationError{
			Field:   "payload.order.amount",
			Message: "amount cannot be negative",
		}
	}
	if !o.Status.Valid() {
		return &ValidationError{
			Field:   "payload.order.status",
			Message: fmt.Sprintf("unknown order status %q", string(o.Status)),
		}
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("payload.order.items[%d].productId", i),
				Message: "product ID is required",
			}
		}
		if item.Quantity <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("payload.order.items[%d].quantity", i),
				Message: "quantity must be positive",
			}
		}
		if item.UnitPrice < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("payload.order.items[%d].unitPrice", i),
				Message: "unit price cannot be negative",
			}
		}
	}
	return nil
}
