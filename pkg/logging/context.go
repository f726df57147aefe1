package logging

import (
	"context"
)

const (
	MessageIDKey   = "message_id"
	OrderKeyKey    = "order_key"
	EventTypeKey   = "event_type"
	ServiceNameKey = "service_name"
)

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithOrderKey(ctx context.Context, orderKey string) context.Context {
	return context.WithValue(ctx, OrderKeyKey, orderKey)
}

func WithEventType(ctx context.Context, eventType string) context.Context {
	return context.WithValue(ctx, EventTypeKey, eventType)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetMessageID(ctx context.Context) string {
	if messageID, ok := ctx.Value(MessageIDKey).(string); ok {
		return messageID
	}
	return ""
}

func GetOrderKey(ctx context.Context) string {
	if orderKey, ok := ctx.Value(OrderKeyKey).(string); ok {
		return orderKey
	}
	return ""
}

func GetEventType(ctx context.Context) string {
	if eventType, ok := ctx.Value(EventTypeKey).(string); ok {
		return eventType
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, "message_id", messageID)
	}

	if orderKey := GetOrderKey(ctx); orderKey != "" {
		fields = append(fields, "order_key", orderKey)
	}

	if eventType := GetEventType(ctx); eventType != "" {
		fields = append(fields, "event_type", eventType)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
