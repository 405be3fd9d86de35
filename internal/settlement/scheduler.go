package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	"github.com/pledgeline/pledgeline/internal/clock"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
	obsmetrics "github.com/pledgeline/pledgeline/internal/observability/metrics"
	"github.com/pledgeline/pledgeline/internal/payment/gateway"
	"github.com/pledgeline/pledgeline/internal/performance"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	GenID           *snowflake.Node
	CampaignRepo    campaigndomain.Repository
	PledgeRepo      pledgedomain.Repository
	ContributorRepo contributordomain.Repository
	Gateway         gateway.Gateway
	Counts          performance.CountProvider
	Config          Config `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	genID           *snowflake.Node
	campaignRepo    campaigndomain.Repository
	pledgeRepo      pledgedomain.Repository
	contributorRepo contributordomain.Repository
	gateway         gateway.Gateway
	counts          performance.CountProvider
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil ||
		p.CampaignRepo == nil || p.PledgeRepo == nil || p.ContributorRepo == nil ||
		p.Gateway == nil || p.Counts == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("settlement").With(zap.String("component", "settlement")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		genID:           p.GenID,
		campaignRepo:    p.CampaignRepo,
		pledgeRepo:      p.PledgeRepo,
		contributorRepo: p.ContributorRepo,
		gateway:         p.Gateway,
		counts:          p.Counts,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	m := obsmetrics.Settlement()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// treat deadline as soft-timeout
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		m.IncJobTimeout(name)
	}
	m.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"reclaim_stale_runs", func(ctx context.Context) error {
			return s.runJob(ctx, "reclaim_stale_runs", s.cfg.JobTimeout, s.ReclaimStaleRunsJob)
		}},
		{"settle_campaigns", func(ctx context.Context) error {
			return s.runJob(ctx, "settle_campaigns", s.cfg.JobTimeout, s.SettleCampaignsJob)
		}},
	}

	for _, job := range jobs {
		err = errors.Join(err, job.Run(parent))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("settlement run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
