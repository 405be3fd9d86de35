package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/campaign/domain"
	"github.com/pledgeline/pledgeline/internal/clock"
	"github.com/pledgeline/pledgeline/internal/performance"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	PledgeRepo pledgedomain.Repository
	Counts     performance.CountProvider
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	pledgeRepo pledgedomain.Repository
	counts     performance.CountProvider
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("campaign.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		pledgeRepo: p.PledgeRepo,
		counts:     p.Counts,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	ownerID, err := parseID(req.OwnerID)
	if err != nil {
		return domain.Campaign{}, domain.ErrInvalidOwner
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Campaign{}, domain.ErrInvalidTitle
	}
	if !req.EndTime.After(req.StartTime) {
		return domain.Campaign{}, domain.ErrInvalidWindow
	}
	if req.GoalAmount != nil && *req.GoalAmount <= 0 {
		return domain.Campaign{}, domain.ErrInvalidGoalAmount
	}

	now := s.clock.Now().UTC()
	campaign := domain.Campaign{
		ID:                   s.genID.Generate(),
		OwnerID:              ownerID,
		Title:                title,
		Cause:                strings.TrimSpace(req.Cause),
		Description:          req.Description,
		GoalAmount:           req.GoalAmount,
		StartTime:            req.StartTime.UTC(),
		EndTime:              req.EndTime.UTC(),
		Status:               domain.CampaignStatusDraft,
		PerformanceSourceRef: strings.TrimSpace(req.PerformanceSourceRef),
		Metadata:             datatypes.JSONMap{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.repo.Insert(ctx, s.db, &campaign); err != nil {
		return domain.Campaign{}, err
	}

	s.log.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.Time("end_time", campaign.EndTime),
	)
	return campaign, nil
}

func (s *Service) Publish(ctx context.Context, id string) (domain.Campaign, error) {
	campaignID, err := parseID(id)
	if err != nil {
		return domain.Campaign{}, err
	}

	moved, err := s.repo.Transition(ctx, s.db, campaignID,
		domain.CampaignStatusDraft, domain.CampaignStatusActive, s.clock.Now().UTC())
	if err != nil {
		return domain.Campaign{}, err
	}

	campaign, err := s.repo.FindByID(ctx, s.db, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrNotFound
	}
	if !moved && campaign.Status != domain.CampaignStatusActive {
		return domain.Campaign{}, domain.ErrNotPublishable
	}
	return *campaign, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Campaign, error) {
	campaignID, err := parseID(id)
	if err != nil {
		return domain.Campaign{}, err
	}
	campaign, err := s.repo.FindByID(ctx, s.db, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return *campaign, nil
}

// GetSummary reads the live performance count and folds it through every
// open pledge. The estimate uses the same per-pledge arithmetic settlement
// uses, so the preview and the final invoices can only differ by whatever
// happens between now and the campaign end.
func (s *Service) GetSummary(ctx context.Context, id string) (domain.CampaignSummary, error) {
	campaign, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.CampaignSummary{}, err
	}

	pledges, err := s.pledgeRepo.ListByCampaign(ctx, s.db, campaign.ID)
	if err != nil {
		return domain.CampaignSummary{}, err
	}

	var count int64
	if campaign.Status != domain.CampaignStatusDraft {
		count, err = s.counts.Count(ctx, campaign.PerformanceSourceRef, campaign.StartTime, campaign.EndTime)
		if err != nil {
			// The summary is advisory; a count outage degrades the estimate
			// to zero rather than failing the whole read.
			s.log.Warn("performance count unavailable for summary",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Error(err),
			)
			count = 0
		}
	}

	summary := domain.CampaignSummary{
		Campaign:         campaign,
		PerformanceCount: count,
	}
	for _, pledge := range pledges {
		if pledge.Status == pledgedomain.PledgeStatusCancelled {
			continue
		}
		summary.PledgeCount++
		switch pledge.Status {
		case pledgedomain.PledgeStatusActive:
			summary.EstimatedRaised += pledge.FinalAmountFor(count)
		default:
			if pledge.FinalAmount != nil {
				summary.EstimatedRaised += *pledge.FinalAmount
			}
		}
	}
	return summary, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCampaignRequest) ([]domain.Campaign, error) {
	status := domain.CampaignStatus(strings.TrimSpace(req.Status))
	switch status {
	case "", domain.CampaignStatusDraft, domain.CampaignStatusActive,
		domain.CampaignStatusSettling, domain.CampaignStatusCompleted:
	default:
		return nil, domain.ErrNotFound
	}

	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.repo.List(ctx, s.db, status, limit)
	if err != nil {
		return nil, err
	}
	campaigns := make([]domain.Campaign, 0, len(rows))
	for _, row := range rows {
		campaigns = append(campaigns, *row)
	}
	return campaigns, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
