package domain

import (
	"context"
	"errors"
)

type CreatePledgeRequest struct {
	CampaignID    string
	PledgerID     string
	AmountPerUnit int64
	MaxAmount     *int64
}

type CancelPledgeRequest struct {
	CampaignID string
	PledgerID  string
}

type Service interface {
	Create(ctx context.Context, req CreatePledgeRequest) (Pledge, error)
	Cancel(ctx context.Context, req CancelPledgeRequest) error
	ListByCampaign(ctx context.Context, campaignID string) ([]Pledge, error)
	ListByPledger(ctx context.Context, pledgerID string) ([]Pledge, error)
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidMaxAmount  = errors.New("invalid_max_amount")
	ErrCampaignNotActive = errors.New("campaign_not_active")
	ErrPledgeExists      = errors.New("pledge_exists")
	ErrNotFound          = errors.New("not_found")
	ErrNotCancellable    = errors.New("not_cancellable")
)
