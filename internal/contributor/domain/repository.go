package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contributor *Contributor) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contributor, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Contributor, error)

	// SetContactRef writes the processor contact ref only when none is set
	// yet and reports whether this caller won. On a lost race the caller
	// re-reads and uses the stored ref.
	SetContactRef(ctx context.Context, db *gorm.DB, id snowflake.ID, contactRef string, now time.Time) (bool, error)

	UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, subscriptionRef *string, now time.Time) error
}
