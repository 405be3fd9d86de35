package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/pledge/domain"
	dbpkg "github.com/pledgeline/pledgeline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pledge *domain.Pledge) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO pledges (id, campaign_id, pledger_id, amount_per_unit, max_amount,
		    status, external_order_ref, final_amount, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pledge.ID,
		pledge.CampaignID,
		pledge.PledgerID,
		pledge.AmountPerUnit,
		pledge.MaxAmount,
		pledge.Status,
		pledge.ExternalOrderRef,
		pledge.FinalAmount,
		pledge.LastError,
		pledge.CreatedAt,
		pledge.UpdatedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return domain.ErrPledgeExists
	}
	return err
}

func (r *repo) FindByCampaignAndPledger(ctx context.Context, db *gorm.DB, campaignID, pledgerID snowflake.ID) (*domain.Pledge, error) {
	var pledge domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT id, campaign_id, pledger_id, amount_per_unit, max_amount,
		        status, external_order_ref, final_amount, last_error, created_at, updated_at
		 FROM pledges WHERE campaign_id = ? AND pledger_id = ?`,
		campaignID,
		pledgerID,
	).Scan(&pledge).Error
	if err != nil {
		return nil, err
	}
	if pledge.ID == 0 {
		return nil, nil
	}
	return &pledge, nil
}

func (r *repo) FindByOrderRef(ctx context.Context, db *gorm.DB, orderRef string) (*domain.Pledge, error) {
	var pledge domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT id, campaign_id, pledger_id, amount_per_unit, max_amount,
		        status, external_order_ref, final_amount, last_error, created_at, updated_at
		 FROM pledges WHERE external_order_ref = ?`,
		orderRef,
	).Scan(&pledge).Error
	if err != nil {
		return nil, err
	}
	if pledge.ID == 0 {
		return nil, nil
	}
	return &pledge, nil
}

func (r *repo) ListByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]domain.Pledge, error) {
	var pledges []domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT id, campaign_id, pledger_id, amount_per_unit, max_amount,
		        status, external_order_ref, final_amount, last_error, created_at, updated_at
		 FROM pledges
		 WHERE campaign_id = ?
		 ORDER BY pledger_id ASC`,
		campaignID,
	).Scan(&pledges).Error
	if err != nil {
		return nil, err
	}
	return pledges, nil
}

func (r *repo) ListByPledger(ctx context.Context, db *gorm.DB, pledgerID snowflake.ID) ([]domain.Pledge, error) {
	var pledges []domain.Pledge
	err := db.WithContext(ctx).Raw(
		`SELECT id, campaign_id, pledger_id, amount_per_unit, max_amount,
		        status, external_order_ref, final_amount, last_error, created_at, updated_at
		 FROM pledges
		 WHERE pledger_id = ?
		 ORDER BY created_at DESC, id DESC`,
		pledgerID,
	).Scan(&pledges).Error
	if err != nil {
		return nil, err
	}
	return pledges, nil
}

func (r *repo) MarkInvoiced(ctx context.Context, db *gorm.DB, id snowflake.ID, orderRef string, finalAmount int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pledges
		 SET status = ?, external_order_ref = ?, final_amount = ?,
		     last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND external_order_ref IS NULL`,
		domain.PledgeStatusInvoiced,
		orderRef,
		finalAmount,
		now,
		id,
		domain.PledgeStatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkFulfilled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pledges
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PledgeStatusFulfilled,
		now,
		id,
		domain.PledgeStatusInvoiced,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkFulfilledZero(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pledges
		 SET status = ?, final_amount = 0, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND external_order_ref IS NULL`,
		domain.PledgeStatusFulfilled,
		now,
		id,
		domain.PledgeStatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pledges
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PledgeStatusCancelled,
		now,
		id,
		domain.PledgeStatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) RecordSettleError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pledges
		 SET last_error = ?, updated_at = ?
		 WHERE id = ?`,
		message,
		now,
		id,
	).Error
}
