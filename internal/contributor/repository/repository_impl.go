package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/contributor/domain"
	dbpkg "github.com/pledgeline/pledgeline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contributor *domain.Contributor) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO contributors (id, name, email, external_contact_ref,
		    subscription_status, external_subscription_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		contributor.ID,
		contributor.Name,
		contributor.Email,
		contributor.ExternalContactRef,
		contributor.SubscriptionStatus,
		contributor.ExternalSubscriptionRef,
		contributor.CreatedAt,
		contributor.UpdatedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return domain.ErrEmailTaken
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Contributor, error) {
	var contributor domain.Contributor
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, external_contact_ref,
		        subscription_status, external_subscription_ref, created_at, updated_at
		 FROM contributors WHERE id = ?`,
		id,
	).Scan(&contributor).Error
	if err != nil {
		return nil, err
	}
	if contributor.ID == 0 {
		return nil, nil
	}
	return &contributor, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Contributor, error) {
	var contributor domain.Contributor
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, external_contact_ref,
		        subscription_status, external_subscription_ref, created_at, updated_at
		 FROM contributors WHERE email = ?`,
		email,
	).Scan(&contributor).Error
	if err != nil {
		return nil, err
	}
	if contributor.ID == 0 {
		return nil, nil
	}
	return &contributor, nil
}

func (r *repo) SetContactRef(ctx context.Context, db *gorm.DB, id snowflake.ID, contactRef string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE contributors
		 SET external_contact_ref = ?, updated_at = ?
		 WHERE id = ? AND external_contact_ref IS NULL`,
		contactRef,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, subscriptionRef *string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE contributors
		 SET subscription_status = ?, external_subscription_ref = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		subscriptionRef,
		now,
		id,
	).Error
}
