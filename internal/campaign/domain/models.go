package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusSettling  CampaignStatus = "settling"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign is a time-boxed fundraising effort tied to a measured
// performance count. Status only moves forward:
// draft -> active -> settling -> completed.
type Campaign struct {
	ID                   snowflake.ID      `gorm:"primaryKey" json:"id"`
	OwnerID              snowflake.ID      `gorm:"not null;index" json:"owner_id"`
	Title                string            `gorm:"not null" json:"title"`
	Cause                string            `json:"cause,omitempty"`
	Description          string            `json:"description,omitempty"`
	GoalAmount           *int64            `json:"goal_amount,omitempty"`
	StartTime            time.Time         `gorm:"not null" json:"start_time"`
	EndTime              time.Time         `gorm:"not null" json:"end_time"`
	Status               CampaignStatus    `gorm:"not null;index" json:"status"`
	PerformanceSourceRef string            `gorm:"not null" json:"performance_source_ref"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }
