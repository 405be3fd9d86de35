package settlement

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	dbpkg "github.com/pledgeline/pledgeline/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type workCampaign struct {
	ID                   snowflake.ID
	Title                string
	StartTime            time.Time
	EndTime              time.Time
	Status               campaigndomain.CampaignStatus
	PerformanceSourceRef string
}

// fetchDueCampaigns claims a batch of campaigns whose window has closed.
// The row locks only live for this short transaction; the settlement lease
// is what actually serializes work per campaign.
func (s *Scheduler) fetchDueCampaigns(ctx context.Context, now time.Time, limit int) ([]workCampaign, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var campaigns []workCampaign
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.WithContext(claimCtx).Raw(
			`SELECT id, title, start_time, end_time, status, performance_source_ref
			 FROM campaigns
			 WHERE status IN (?, ?) AND end_time <= ?
			 ORDER BY end_time ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			campaigndomain.CampaignStatusActive,
			campaigndomain.CampaignStatusSettling,
			now,
			limit,
		).Scan(&campaigns).Error
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// acquireLease inserts an in_progress run for the campaign. The partial
// unique index on settlement_runs(campaign_id) where outcome='in_progress'
// makes the insert fail when another run is live; that is ErrLeaseConflict.
func (s *Scheduler) acquireLease(ctx context.Context, campaignID snowflake.ID, now time.Time) (*SettlementRun, error) {
	run := SettlementRun{
		ID:         s.genID.Generate(),
		CampaignID: campaignID,
		Outcome:    RunOutcomeInProgress,
		StartedAt:  now,
	}
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO settlement_runs (id, campaign_id, outcome, pledges_total,
		    pledges_settled, pledges_failed, last_error, started_at, finished_at)
		 VALUES (?, ?, ?, 0, 0, 0, NULL, ?, NULL)`,
		run.ID,
		run.CampaignID,
		run.Outcome,
		run.StartedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return nil, ErrLeaseConflict
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Scheduler) finishRun(ctx context.Context, run *SettlementRun, outcome RunOutcome, now time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE settlement_runs
		 SET outcome = ?, pledges_total = ?, pledges_settled = ?,
		     pledges_failed = ?, last_error = ?, finished_at = ?
		 WHERE id = ? AND outcome = ?`,
		outcome,
		run.PledgesTotal,
		run.PledgesSettled,
		run.PledgesFailed,
		run.LastError,
		now,
		run.ID,
		RunOutcomeInProgress,
	).Error
}

// ReclaimStaleRunsJob marks abandoned in_progress runs as failed_partial so
// the next tick can settle the campaign again. A previous attempt may have
// partially succeeded; the per-pledge order-ref skip makes the retry safe.
func (s *Scheduler) ReclaimStaleRunsJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.cfg.LeaseTimeout)

	result := s.db.WithContext(ctx).Exec(
		`UPDATE settlement_runs
		 SET outcome = ?, last_error = 'lease expired', finished_at = ?
		 WHERE outcome = ? AND started_at < ?`,
		RunOutcomeFailedPartial,
		now,
		RunOutcomeInProgress,
		cutoff,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Warn("reclaimed stale settlement runs",
			zap.Int64("count", result.RowsAffected),
			zap.Duration("lease_timeout", s.cfg.LeaseTimeout),
		)
	}
	return nil
}
