package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Contributor is a person who places pledges. ExternalContactRef points at
// the payment processor contact and is written at most once; concurrent
// settlement runs race on the conditional update and the loser adopts the
// winner's ref.
type Contributor struct {
	ID                      snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name                    string             `gorm:"not null" json:"name"`
	Email                   string             `gorm:"not null;uniqueIndex:ux_contributors_email" json:"email"`
	ExternalContactRef      *string            `json:"external_contact_ref,omitempty"`
	SubscriptionStatus      SubscriptionStatus `gorm:"not null;default:none" json:"subscription_status"`
	ExternalSubscriptionRef *string            `json:"external_subscription_ref,omitempty"`
	CreatedAt               time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Contributor) TableName() string { return "contributors" }
