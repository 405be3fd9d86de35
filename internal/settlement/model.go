package settlement

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RunOutcome string

const (
	RunOutcomeInProgress    RunOutcome = "in_progress"
	RunOutcomeSucceeded     RunOutcome = "succeeded"
	RunOutcomeFailedPartial RunOutcome = "failed_partial"
)

// SettlementRun is the single-flight lease for settling one campaign. A
// partial unique index on campaign_id where outcome = 'in_progress' means at
// most one live run per campaign; acquisition is just an insert.
type SettlementRun struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	CampaignID     snowflake.ID `gorm:"not null" json:"campaign_id"`
	Outcome        RunOutcome   `gorm:"not null" json:"outcome"`
	PledgesTotal   int          `gorm:"not null" json:"pledges_total"`
	PledgesSettled int          `gorm:"not null" json:"pledges_settled"`
	PledgesFailed  int          `gorm:"not null" json:"pledges_failed"`
	LastError      *string      `json:"last_error,omitempty"`
	StartedAt      time.Time    `gorm:"not null" json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

func (SettlementRun) TableName() string { return "settlement_runs" }

var (
	ErrInvalidConfig = errors.New("invalid_config")
	ErrLeaseConflict = errors.New("lease_conflict")
)
