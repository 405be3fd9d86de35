package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/campaign/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO campaigns (id, owner_id, title, cause, description, goal_amount,
		    start_time, end_time, status, performance_source_ref, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaign.ID,
		campaign.OwnerID,
		campaign.Title,
		campaign.Cause,
		campaign.Description,
		campaign.GoalAmount,
		campaign.StartTime,
		campaign.EndTime,
		campaign.Status,
		campaign.PerformanceSourceRef,
		campaign.Metadata,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, title, cause, description, goal_amount,
		        start_time, end_time, status, performance_source_ref, metadata, created_at, updated_at
		 FROM campaigns WHERE id = ?`,
		id,
	).Scan(&campaign).Error
	if err != nil {
		return nil, err
	}
	if campaign.ID == 0 {
		return nil, nil
	}
	return &campaign, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var campaigns []*domain.Campaign
	stmt := db.WithContext(ctx).Model(&domain.Campaign{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.CampaignStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE campaigns
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
