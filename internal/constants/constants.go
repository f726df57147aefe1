package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second

	// Attempts to settle a single delivery before the consumer gives up
	// and stops, forcing redelivery from the last committed offset.
	ConsumerSettleAttempts = 5
)

const (
	DefaultStoreTimeout = 10 * time.Second
	DefaultTokenMargin  = 30 * time.Second
)

const (
	LedgerKeyPrefix = "ledger:"
)

const (
	DefaultWorkTopic = "orders_events"
	DefaultDLQTopic  = "orders_events_dlq"
)

const (
	DefaultMaxRetries = 3
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Entity names and key fields of the external record store. Orders have no
// native upsert-by-key, so they are looked up by business key through the
// display-name field.
const (
	EntityCustomer  = "Customer"
	EntityOrder     = "Order"
	EntityOrderLine = "OrderLine"
	EntityProduct   = "Product"

	FieldCustomerExternalID = "externalId"
	FieldOrderName          = "name"
	FieldLineKey            = "lineKey"
	FieldProductID          = "productId"
	FieldStock              = "stock"
)

const (
	LedgerBackendRedis    = "redis"
	LedgerBackendPostgres = "postgres"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
