package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert stores a new pledge. The unique constraint on
	// (campaign_id, pledger_id) decides races between concurrent creates;
	// the loser gets ErrPledgeExists.
	Insert(ctx context.Context, db *gorm.DB, pledge *Pledge) error
	FindByCampaignAndPledger(ctx context.Context, db *gorm.DB, campaignID, pledgerID snowflake.ID) (*Pledge, error)
	FindByOrderRef(ctx context.Context, db *gorm.DB, orderRef string) (*Pledge, error)
	ListByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]Pledge, error)
	ListByPledger(ctx context.Context, db *gorm.DB, pledgerID snowflake.ID) ([]Pledge, error)

	// State transitions. Each one is a row-level compare-and-swap on the
	// expected pre-state and reports whether the row changed.
	MarkInvoiced(ctx context.Context, db *gorm.DB, id snowflake.ID, orderRef string, finalAmount int64, now time.Time) (bool, error)
	MarkFulfilled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkFulfilledZero(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	RecordSettleError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error
}
