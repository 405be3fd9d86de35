package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Campaign, error)
	List(ctx context.Context, db *gorm.DB, status CampaignStatus, limit int) ([]*Campaign, error)
	// Transition applies a compare-and-swap status change and reports whether
	// the row was updated.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to CampaignStatus, now time.Time) (bool, error)
}
