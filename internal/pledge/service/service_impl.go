package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	"github.com/pledgeline/pledgeline/internal/pledge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	CampaignRepo campaigndomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	campaignRepo campaigndomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("pledge.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		campaignRepo: p.CampaignRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePledgeRequest) (domain.Pledge, error) {
	campaignID, err := parseID(req.CampaignID)
	if err != nil {
		return domain.Pledge{}, err
	}
	pledgerID, err := parseID(req.PledgerID)
	if err != nil {
		return domain.Pledge{}, err
	}
	if req.AmountPerUnit <= 0 {
		return domain.Pledge{}, domain.ErrInvalidAmount
	}
	if req.MaxAmount != nil && *req.MaxAmount <= 0 {
		return domain.Pledge{}, domain.ErrInvalidMaxAmount
	}

	campaign, err := s.campaignRepo.FindByID(ctx, s.db, campaignID)
	if err != nil {
		return domain.Pledge{}, err
	}
	if campaign == nil {
		return domain.Pledge{}, campaigndomain.ErrNotFound
	}
	if campaign.Status != campaigndomain.CampaignStatusActive {
		return domain.Pledge{}, domain.ErrCampaignNotActive
	}

	now := time.Now().UTC()
	pledge := domain.Pledge{
		ID:            s.genID.Generate(),
		CampaignID:    campaignID,
		PledgerID:     pledgerID,
		AmountPerUnit: req.AmountPerUnit,
		MaxAmount:     req.MaxAmount,
		Status:        domain.PledgeStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The unique constraint on (campaign_id, pledger_id) decides concurrent
	// submissions; the second writer gets ErrPledgeExists, never an overwrite.
	if err := s.repo.Insert(ctx, s.db, &pledge); err != nil {
		return domain.Pledge{}, err
	}

	s.log.Info("pledge created",
		zap.String("campaign_id", campaignID.String()),
		zap.String("pledger_id", pledgerID.String()),
		zap.Int64("amount_per_unit", req.AmountPerUnit),
	)
	return pledge, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelPledgeRequest) error {
	campaignID, err := parseID(req.CampaignID)
	if err != nil {
		return err
	}
	pledgerID, err := parseID(req.PledgerID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pledge, err := s.repo.FindByCampaignAndPledger(ctx, tx, campaignID, pledgerID)
		if err != nil {
			return err
		}
		if pledge == nil {
			return domain.ErrNotFound
		}
		cancelled, err := s.repo.Cancel(ctx, tx, pledge.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !cancelled {
			// Already invoiced, fulfilled or cancelled; withdrawal is only
			// possible while the pledge is active.
			return domain.ErrNotCancellable
		}
		return nil
	})
}

func (s *Service) ListByCampaign(ctx context.Context, campaignID string) ([]domain.Pledge, error) {
	id, err := parseID(campaignID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByCampaign(ctx, s.db, id)
}

func (s *Service) ListByPledger(ctx context.Context, pledgerID string) ([]domain.Pledge, error) {
	id, err := parseID(pledgerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByPledger(ctx, s.db, id)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
