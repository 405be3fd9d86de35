package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/contributor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contributor.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterContributorRequest) (domain.Contributor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Contributor{}, domain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Contributor{}, domain.ErrInvalidEmail
	}

	now := time.Now().UTC()
	contributor := domain.Contributor{
		ID:                 s.genID.Generate(),
		Name:               name,
		Email:              email,
		SubscriptionStatus: domain.SubscriptionStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, &contributor); err != nil {
		return domain.Contributor{}, err
	}

	s.log.Info("contributor registered", zap.String("contributor_id", contributor.ID.String()))
	return contributor, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Contributor, error) {
	contributorID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || contributorID == 0 {
		return domain.Contributor{}, domain.ErrInvalidID
	}
	contributor, err := s.repo.FindByID(ctx, s.db, contributorID)
	if err != nil {
		return domain.Contributor{}, err
	}
	if contributor == nil {
		return domain.Contributor{}, domain.ErrNotFound
	}
	return *contributor, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (domain.Contributor, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return domain.Contributor{}, domain.ErrInvalidEmail
	}
	contributor, err := s.repo.FindByEmail(ctx, s.db, normalized)
	if err != nil {
		return domain.Contributor{}, err
	}
	if contributor == nil {
		return domain.Contributor{}, domain.ErrNotFound
	}
	return *contributor, nil
}
