package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/payment/domain"
	dbpkg "github.com/pledgeline/pledgeline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, record *domain.EventRecord) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (id, provider_event_id, event_type, status, note,
		    raw_payload, received_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ProviderEventID,
		record.EventType,
		record.Status,
		record.Note,
		record.RawPayload,
		record.ReceivedAt,
		record.ProcessedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return domain.ErrEventAlreadyProcessed
	}
	return err
}

func (r *repo) FindEventByProviderID(ctx context.Context, db *gorm.DB, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, status, note,
		        raw_payload, received_at, processed_at
		 FROM payment_events WHERE provider_event_id = ?`,
		providerEventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) MarkEventOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.EventStatus, note *string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET status = ?, note = ?, processed_at = ?
		 WHERE id = ?`,
		status,
		note,
		now,
		id,
	).Error
}
