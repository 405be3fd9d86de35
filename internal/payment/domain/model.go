package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventTypeOrderPaid           = "order.paid"
	EventTypeSubscriptionCreated = "subscription.created"
	EventTypeSubscriptionUpdated = "subscription.updated"
	EventTypeSubscriptionDeleted = "subscription.deleted"
)

type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusProcessed EventStatus = "processed"
	EventStatusUnmatched EventStatus = "unmatched"
)

// EventRecord is the dedupe ledger for inbound webhook deliveries. The
// unique index on provider_event_id makes every redelivery a no-op.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProviderEventID string         `gorm:"not null;uniqueIndex:ux_payment_events_provider_event" json:"provider_event_id"`
	EventType       string         `gorm:"not null" json:"event_type"`
	Status          EventStatus    `gorm:"not null" json:"status"`
	Note            *string        `json:"note,omitempty"`
	RawPayload      datatypes.JSON `json:"raw_payload,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the canonical shape of a processor webhook after parsing,
// independent of the provider's wire format.
type PaymentEvent struct {
	ProviderEventID   string
	Type              string
	OrderRef          string
	Email             string
	SubscriptionRef   string
	SubscriptionState string
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrGatewayUnavailable    = errors.New("gateway_unavailable")
	ErrGatewayRejected       = errors.New("gateway_rejected")
)
