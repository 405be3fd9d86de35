package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PledgeStatus string

const (
	PledgeStatusActive    PledgeStatus = "active"
	PledgeStatusInvoiced  PledgeStatus = "invoiced"
	PledgeStatusFulfilled PledgeStatus = "fulfilled"
	PledgeStatusCancelled PledgeStatus = "cancelled"
)

// Pledge commits a contributor to pay AmountPerUnit (currency minor units)
// per unit of measured performance, optionally capped at MaxAmount. One
// pledge per (campaign, pledger) pair, enforced by a unique constraint.
//
// ExternalOrderRef is written exactly once, in the same transaction as the
// active -> invoiced transition; its presence is what makes settlement
// retries idempotent.
type Pledge struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	CampaignID       snowflake.ID `gorm:"not null;uniqueIndex:ux_pledges_campaign_pledger" json:"campaign_id"`
	PledgerID        snowflake.ID `gorm:"not null;uniqueIndex:ux_pledges_campaign_pledger" json:"pledger_id"`
	AmountPerUnit    int64        `gorm:"not null" json:"amount_per_unit"`
	MaxAmount        *int64       `json:"max_amount,omitempty"`
	Status           PledgeStatus `gorm:"not null;index" json:"status"`
	ExternalOrderRef *string      `gorm:"uniqueIndex:ux_pledges_order_ref" json:"external_order_ref,omitempty"`
	FinalAmount      *int64       `json:"final_amount,omitempty"`
	LastError        *string      `json:"last_error,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Pledge) TableName() string { return "pledges" }

// FinalAmountFor computes min(count * amount_per_unit, max_amount).
func (p Pledge) FinalAmountFor(performanceCount int64) int64 {
	if performanceCount < 0 {
		performanceCount = 0
	}
	amount := performanceCount * p.AmountPerUnit
	if p.MaxAmount != nil && amount > *p.MaxAmount {
		amount = *p.MaxAmount
	}
	return amount
}

// Terminal reports whether the pledge can no longer change state.
func (p Pledge) Terminal() bool {
	return p.Status == PledgeStatusFulfilled || p.Status == PledgeStatusCancelled
}
