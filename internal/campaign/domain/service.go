package domain

import (
	"context"
	"errors"
	"time"
)

type CreateCampaignRequest struct {
	OwnerID              string
	Title                string
	Cause                string
	Description          string
	GoalAmount           *int64
	StartTime            time.Time
	EndTime              time.Time
	PerformanceSourceRef string
}

type ListCampaignRequest struct {
	Status string
	Limit  int
}

// CampaignSummary is a read-only projection: the raised-so-far estimate is
// advisory until settlement writes final amounts.
type CampaignSummary struct {
	Campaign         Campaign `json:"campaign"`
	PerformanceCount int64    `json:"performance_count"`
	PledgeCount      int64    `json:"pledge_count"`
	EstimatedRaised  int64    `json:"estimated_raised"`
}

type Service interface {
	Create(ctx context.Context, req CreateCampaignRequest) (Campaign, error)
	Publish(ctx context.Context, id string) (Campaign, error)
	GetByID(ctx context.Context, id string) (Campaign, error)
	GetSummary(ctx context.Context, id string) (CampaignSummary, error)
	List(ctx context.Context, req ListCampaignRequest) ([]Campaign, error)
}

var (
	ErrInvalidOwner      = errors.New("invalid_owner")
	ErrInvalidTitle      = errors.New("invalid_title")
	ErrInvalidWindow     = errors.New("invalid_window")
	ErrInvalidGoalAmount = errors.New("invalid_goal_amount")
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("not_found")
	ErrNotPublishable    = errors.New("not_publishable")
)
