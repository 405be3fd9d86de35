package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	obsmetrics "github.com/pledgeline/pledgeline/internal/observability/metrics"
	"github.com/pledgeline/pledgeline/internal/payment/gateway"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettleCampaignsJob finds campaigns whose window has closed and settles
// each one under a per-campaign lease. Campaign failures are isolated; one
// broken campaign never blocks the rest of the batch.
func (s *Scheduler) SettleCampaignsJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	campaigns, err := s.fetchDueCampaigns(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, campaign := range campaigns {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}
		if err := s.settleCampaign(ctx, campaign); err != nil {
			if errors.Is(err, ErrLeaseConflict) {
				s.log.Debug("campaign already being settled elsewhere",
					zap.String("campaign_id", campaign.ID.String()),
				)
				continue
			}
			errs = errors.Join(errs, fmt.Errorf("campaign %s: %w", campaign.ID, err))
		}
	}
	return errs
}

func (s *Scheduler) settleCampaign(ctx context.Context, campaign workCampaign) error {
	now := s.clock.Now().UTC()
	run, err := s.acquireLease(ctx, campaign.ID, now)
	if err != nil {
		return err
	}

	log := s.log.With(
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("run_id", run.ID.String()),
	)

	// First run moves the campaign out of active; a retry after a partial
	// failure finds it already settling, which is fine.
	if _, err := s.campaignRepo.Transition(ctx, s.db, campaign.ID,
		campaigndomain.CampaignStatusActive, campaigndomain.CampaignStatusSettling, now); err != nil {
		return s.failRun(ctx, run, err)
	}

	count, err := s.counts.Count(ctx, campaign.PerformanceSourceRef, campaign.StartTime, campaign.EndTime)
	if err != nil {
		log.Warn("performance count unavailable, deferring settlement", zap.Error(err))
		return s.failRun(ctx, run, err)
	}

	pledges, err := s.pledgeRepo.ListByCampaign(ctx, s.db, campaign.ID)
	if err != nil {
		return s.failRun(ctx, run, err)
	}
	run.PledgesTotal = len(pledges)

	m := obsmetrics.Settlement()
	for _, pledge := range pledges {
		if err := ctx.Err(); err != nil {
			return s.failRun(ctx, run, err)
		}
		result, err := s.settlePledge(ctx, campaign, pledge, count)
		if err != nil {
			// Partial-failure isolation: record and move on to the next
			// pledge, the campaign stays settling for a later retry.
			run.PledgesFailed++
			run.LastError = strptr(err.Error())
			m.IncPledge(obsmetrics.PledgeResultFailed)
			log.Warn("pledge settlement failed",
				zap.String("pledge_id", pledge.ID.String()),
				zap.Error(err),
			)
			if recErr := s.pledgeRepo.RecordSettleError(ctx, s.db, pledge.ID, err.Error(), s.clock.Now().UTC()); recErr != nil {
				log.Warn("failed to record pledge error", zap.Error(recErr))
			}
			continue
		}
		run.PledgesSettled++
		m.IncPledge(result)
	}

	finishedAt := s.clock.Now().UTC()
	if run.PledgesFailed > 0 {
		if err := s.finishRun(ctx, run, RunOutcomeFailedPartial, finishedAt); err != nil {
			return err
		}
		m.IncRunFinished(string(RunOutcomeFailedPartial))
		log.Warn("settlement run finished with failures",
			zap.Int("pledges_total", run.PledgesTotal),
			zap.Int("pledges_failed", run.PledgesFailed),
		)
		return nil
	}

	// Every pledge is terminal for this run (invoiced, fulfilled or
	// cancelled), including the zero-pledge case. Complete the campaign.
	if _, err := s.campaignRepo.Transition(ctx, s.db, campaign.ID,
		campaigndomain.CampaignStatusSettling, campaigndomain.CampaignStatusCompleted, finishedAt); err != nil {
		return s.failRun(ctx, run, err)
	}
	if err := s.finishRun(ctx, run, RunOutcomeSucceeded, finishedAt); err != nil {
		return err
	}
	m.IncRunFinished(string(RunOutcomeSucceeded))
	log.Info("campaign settled",
		zap.Int64("performance_count", count),
		zap.Int("pledges_total", run.PledgesTotal),
	)
	return nil
}

func (s *Scheduler) failRun(ctx context.Context, run *SettlementRun, cause error) error {
	run.LastError = strptr(cause.Error())
	if err := s.finishRun(ctx, run, RunOutcomeFailedPartial, s.clock.Now().UTC()); err != nil {
		return errors.Join(cause, err)
	}
	obsmetrics.Settlement().IncRunFinished(string(RunOutcomeFailedPartial))
	return cause
}

// settlePledge drives one pledge to a terminal state for this run and
// returns the metrics result label.
func (s *Scheduler) settlePledge(ctx context.Context, campaign workCampaign, pledge pledgedomain.Pledge, count int64) (string, error) {
	if pledge.Status != pledgedomain.PledgeStatusActive || pledge.ExternalOrderRef != nil {
		// Cancelled, already invoiced or already fulfilled. A retry after a
		// partial failure lands here for everything the first attempt
		// finished.
		return obsmetrics.PledgeResultSkipped, nil
	}

	now := s.clock.Now().UTC()
	finalAmount := pledge.FinalAmountFor(count)
	if finalAmount == 0 {
		moved, err := s.pledgeRepo.MarkFulfilledZero(ctx, s.db, pledge.ID, now)
		if err != nil {
			return "", err
		}
		if !moved {
			return obsmetrics.PledgeResultSkipped, nil
		}
		return obsmetrics.PledgeResultFulfilledZero, nil
	}

	contactRef, err := s.ensureContact(ctx, pledge.PledgerID)
	if err != nil {
		return "", err
	}

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		IdempotencyKey: pledge.ID.String(),
		ContactRef:     contactRef,
		Amount:         finalAmount,
		Currency:       s.cfg.Currency,
		Label:          fmt.Sprintf("Pledge settlement: %s", campaign.Title),
		ExternalRef:    pledge.ID.String(),
	})
	if err != nil {
		return "", err
	}

	// Order ref and status move together in one transaction; a concurrent
	// writer loses the CAS and the re-read below tells us who won.
	var moved bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		moved, txErr = s.pledgeRepo.MarkInvoiced(ctx, tx, pledge.ID, order.ID, finalAmount, s.clock.Now().UTC())
		return txErr
	})
	if err != nil {
		return "", err
	}
	if !moved {
		current, err := s.pledgeRepo.FindByCampaignAndPledger(ctx, s.db, pledge.CampaignID, pledge.PledgerID)
		if err != nil {
			return "", err
		}
		if current != nil && current.ExternalOrderRef != nil {
			return obsmetrics.PledgeResultSkipped, nil
		}
		return "", fmt.Errorf("pledge %s: invoice transition lost with no order ref", pledge.ID)
	}

	obsmetrics.Settlement().IncOrderCreated()
	return obsmetrics.PledgeResultInvoiced, nil
}

// ensureContact returns the processor contact ref for a contributor,
// creating it on first use. Safe under concurrent settlement: the
// conditional update decides the winner and the loser adopts the stored ref.
func (s *Scheduler) ensureContact(ctx context.Context, pledgerID snowflake.ID) (string, error) {
	contributor, err := s.contributorRepo.FindByID(ctx, s.db, pledgerID)
	if err != nil {
		return "", err
	}
	if contributor == nil {
		return "", fmt.Errorf("contributor %s not found", pledgerID)
	}
	if contributor.ExternalContactRef != nil {
		return *contributor.ExternalContactRef, nil
	}

	contact, err := s.gateway.CreateContact(ctx, gateway.ContactRequest{
		Name:  contributor.Name,
		Email: contributor.Email,
	})
	if err != nil {
		return "", err
	}

	won, err := s.contributorRepo.SetContactRef(ctx, s.db, contributor.ID, contact.ID, s.clock.Now().UTC())
	if err != nil {
		return "", err
	}
	if won {
		return contact.ID, nil
	}

	current, err := s.contributorRepo.FindByID(ctx, s.db, contributor.ID)
	if err != nil {
		return "", err
	}
	if current == nil || current.ExternalContactRef == nil {
		return "", fmt.Errorf("contributor %s lost contact race with no stored ref", contributor.ID)
	}
	return *current.ExternalContactRef, nil
}

func strptr(s string) *string {
	if len(s) > 500 {
		s = s[:500]
	}
	return &s
}
