package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/clock"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
	"github.com/pledgeline/pledgeline/internal/observability/metrics"
	"github.com/pledgeline/pledgeline/internal/payment/domain"
	"github.com/pledgeline/pledgeline/internal/payment/gateway"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	GenID           *snowflake.Node
	Gateway         gateway.Gateway
	Repo            domain.Repository
	PledgeRepo      pledgedomain.Repository
	ContributorRepo contributordomain.Repository
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	clock           clock.Clock
	genID           *snowflake.Node
	gateway         gateway.Gateway
	repo            domain.Repository
	pledgeRepo      pledgedomain.Repository
	contributorRepo contributordomain.Repository
}

func New(p Params) domain.WebhookService {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.webhook"),
		clock:           p.Clock,
		genID:           p.GenID,
		gateway:         p.Gateway,
		repo:            p.Repo,
		pledgeRepo:      p.PledgeRepo,
		contributorRepo: p.ContributorRepo,
	}
}

func (s *Service) HandleEvent(ctx context.Context, payload []byte, signature string) (string, error) {
	if err := s.gateway.VerifySignature(payload, signature); err != nil {
		metrics.Settlement().IncWebhookEvent("unknown", metrics.WebhookResultRejected)
		return metrics.WebhookResultRejected, err
	}

	event, err := s.gateway.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return metrics.WebhookResultApplied, err
		}
		metrics.Settlement().IncWebhookEvent("unknown", metrics.WebhookResultRejected)
		return metrics.WebhookResultRejected, err
	}

	result := metrics.WebhookResultApplied
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		record := domain.EventRecord{
			ID:              s.genID.Generate(),
			ProviderEventID: event.ProviderEventID,
			EventType:       event.Type,
			Status:          domain.EventStatusReceived,
			RawPayload:      datatypes.JSON(event.RawPayload),
			ReceivedAt:      now,
		}
		if err := s.repo.InsertEvent(ctx, tx, &record); err != nil {
			return err
		}

		status := domain.EventStatusProcessed
		var note *string
		switch event.Type {
		case domain.EventTypeOrderPaid:
			matched, detail, err := s.applyOrderPaid(ctx, tx, event, now)
			if err != nil {
				return err
			}
			if !matched {
				status = domain.EventStatusUnmatched
				result = metrics.WebhookResultUnmatched
			}
			note = detail
		default:
			matched, detail, err := s.applySubscription(ctx, tx, event, now)
			if err != nil {
				return err
			}
			if !matched {
				status = domain.EventStatusUnmatched
				result = metrics.WebhookResultUnmatched
			}
			note = detail
		}

		return s.repo.MarkEventOutcome(ctx, tx, record.ID, status, note, s.clock.Now().UTC())
	})

	if errors.Is(err, domain.ErrEventAlreadyProcessed) {
		metrics.Settlement().IncWebhookEvent(event.Type, metrics.WebhookResultDuplicate)
		s.log.Info("webhook replayed, ignoring",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", event.Type),
		)
		return metrics.WebhookResultDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	metrics.Settlement().IncWebhookEvent(event.Type, result)
	return result, nil
}

// applyOrderPaid moves the matching pledge from invoiced to fulfilled. An
// already fulfilled pledge is a success, any other mismatch is recorded as
// unmatched so an operator can reconcile it by hand.
func (s *Service) applyOrderPaid(ctx context.Context, tx *gorm.DB, event *domain.PaymentEvent, now time.Time) (bool, *string, error) {
	pledge, err := s.pledgeRepo.FindByOrderRef(ctx, tx, event.OrderRef)
	if err != nil {
		return false, nil, err
	}
	if pledge == nil {
		s.log.Warn("order paid for unknown order ref",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("order_ref", event.OrderRef),
		)
		return false, notef("no pledge for order ref %s", event.OrderRef), nil
	}

	moved, err := s.pledgeRepo.MarkFulfilled(ctx, tx, pledge.ID, now)
	if err != nil {
		return false, nil, err
	}
	if moved {
		s.log.Info("pledge fulfilled",
			zap.String("pledge_id", pledge.ID.String()),
			zap.String("order_ref", event.OrderRef),
		)
		return true, nil, nil
	}
	if pledge.Status == pledgedomain.PledgeStatusFulfilled {
		return true, notef("pledge %s already fulfilled", pledge.ID), nil
	}
	return false, notef("pledge %s in state %s, expected invoiced", pledge.ID, pledge.Status), nil
}

func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, event *domain.PaymentEvent, now time.Time) (bool, *string, error) {
	if event.Email == "" {
		return false, notef("subscription event without contact email"), nil
	}
	contributor, err := s.contributorRepo.FindByEmail(ctx, tx, event.Email)
	if err != nil {
		return false, nil, err
	}
	if contributor == nil {
		return false, notef("no contributor for email %s", event.Email), nil
	}

	status := subscriptionStatus(event)
	ref := &event.SubscriptionRef
	if err := s.contributorRepo.UpdateSubscription(ctx, tx, contributor.ID, status, ref, now); err != nil {
		return false, nil, err
	}
	s.log.Info("subscription state updated",
		zap.String("contributor_id", contributor.ID.String()),
		zap.String("status", string(status)),
	)
	return true, nil, nil
}

func subscriptionStatus(event *domain.PaymentEvent) contributordomain.SubscriptionStatus {
	if event.Type == domain.EventTypeSubscriptionDeleted {
		return contributordomain.SubscriptionStatusCanceled
	}
	switch event.SubscriptionState {
	case "past_due", "overdue":
		return contributordomain.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return contributordomain.SubscriptionStatusCanceled
	default:
		return contributordomain.SubscriptionStatusActive
	}
}

func notef(format string, args ...any) *string {
	s := fmt.Sprintf(format, args...)
	return &s
}
