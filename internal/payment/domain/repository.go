package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent claims a provider event id. A duplicate key means the
	// delivery was already seen and maps to ErrEventAlreadyProcessed.
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) error
	FindEventByProviderID(ctx context.Context, db *gorm.DB, providerEventID string) (*EventRecord, error)
	MarkEventOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status EventStatus, note *string, now time.Time) error
}
