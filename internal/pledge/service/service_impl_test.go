package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	campaignrepo "github.com/pledgeline/pledgeline/internal/campaign/repository"
	"github.com/pledgeline/pledgeline/internal/pledge/domain"
	pledgerepo "github.com/pledgeline/pledgeline/internal/pledge/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type pledgeEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  domain.Service
}

func newPledgeEnv(t *testing.T) *pledgeEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:pledge_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE campaigns (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			cause TEXT,
			description TEXT,
			goal_amount INTEGER,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			status TEXT NOT NULL,
			performance_source_ref TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE pledges (
			id INTEGER PRIMARY KEY,
			campaign_id INTEGER NOT NULL,
			pledger_id INTEGER NOT NULL,
			amount_per_unit INTEGER NOT NULL,
			max_amount INTEGER,
			status TEXT NOT NULL,
			external_order_ref TEXT,
			final_amount INTEGER,
			last_error TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_pledges_campaign_pledger ON pledges (campaign_id, pledger_id)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Repo:         pledgerepo.Provide(),
		CampaignRepo: campaignrepo.Provide(),
	})
	return &pledgeEnv{db: db, node: node, svc: svc}
}

func (e *pledgeEnv) seedCampaign(t *testing.T, status campaigndomain.CampaignStatus) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := time.Now().UTC()
	require.NoError(t, e.db.Exec(
		`INSERT INTO campaigns (id, owner_id, title, start_time, end_time, status,
		    performance_source_ref, metadata, created_at, updated_at)
		 VALUES (?, ?, 'Read-a-thon', ?, ?, ?, 'team-7', '{}', ?, ?)`,
		id, e.node.Generate(), now.Add(-time.Hour), now.Add(time.Hour), status, now, now,
	).Error)
	return id
}

func int64ptr(v int64) *int64 { return &v }

func TestCreatePledge(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)
	pledgerID := env.node.Generate()

	pledge, err := env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
		MaxAmount:     int64ptr(2000),
	})
	require.NoError(t, err)
	require.Equal(t, domain.PledgeStatusActive, pledge.Status)
	require.Equal(t, campaignID, pledge.CampaignID)
	require.NotZero(t, pledge.ID)
}

func TestCreatePledgeRejectsDuplicatePledger(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)
	pledgerID := env.node.Generate()

	req := domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
	}
	_, err := env.svc.Create(context.Background(), req)
	require.NoError(t, err)

	req.AmountPerUnit = 25
	_, err = env.svc.Create(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrPledgeExists)

	// The first pledge is untouched.
	pledges, err := env.svc.ListByCampaign(context.Background(), campaignID.String())
	require.NoError(t, err)
	require.Len(t, pledges, 1)
	require.EqualValues(t, 10, pledges[0].AmountPerUnit)
}

func TestCreatePledgeRequiresActiveCampaign(t *testing.T) {
	env := newPledgeEnv(t)
	pledgerID := env.node.Generate()

	for _, status := range []campaigndomain.CampaignStatus{
		campaigndomain.CampaignStatusDraft,
		campaigndomain.CampaignStatusSettling,
		campaigndomain.CampaignStatusCompleted,
	} {
		campaignID := env.seedCampaign(t, status)
		_, err := env.svc.Create(context.Background(), domain.CreatePledgeRequest{
			CampaignID:    campaignID.String(),
			PledgerID:     pledgerID.String(),
			AmountPerUnit: 10,
		})
		require.ErrorIs(t, err, domain.ErrCampaignNotActive, "status %s", status)
	}
}

func TestCreatePledgeValidation(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)
	pledgerID := env.node.Generate()

	_, err := env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 0,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
		MaxAmount:     int64ptr(-1),
	})
	require.ErrorIs(t, err, domain.ErrInvalidMaxAmount)

	_, err = env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    "not-a-number",
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
	})
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestCancelPledge(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)
	pledgerID := env.node.Generate()

	_, err := env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(context.Background(), domain.CancelPledgeRequest{
		CampaignID: campaignID.String(),
		PledgerID:  pledgerID.String(),
	}))

	pledges, err := env.svc.ListByCampaign(context.Background(), campaignID.String())
	require.NoError(t, err)
	require.Len(t, pledges, 1)
	require.Equal(t, domain.PledgeStatusCancelled, pledges[0].Status)
}

func TestCancelAfterInvoiceIsRejected(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)
	pledgerID := env.node.Generate()

	pledge, err := env.svc.Create(context.Background(), domain.CreatePledgeRequest{
		CampaignID:    campaignID.String(),
		PledgerID:     pledgerID.String(),
		AmountPerUnit: 10,
	})
	require.NoError(t, err)

	require.NoError(t, env.db.Exec(
		`UPDATE pledges SET status = 'invoiced', external_order_ref = 'order-1' WHERE id = ?`,
		pledge.ID,
	).Error)

	err = env.svc.Cancel(context.Background(), domain.CancelPledgeRequest{
		CampaignID: campaignID.String(),
		PledgerID:  pledgerID.String(),
	})
	require.ErrorIs(t, err, domain.ErrNotCancellable)
}

func TestCancelUnknownPledge(t *testing.T) {
	env := newPledgeEnv(t)
	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive)

	err := env.svc.Cancel(context.Background(), domain.CancelPledgeRequest{
		CampaignID: campaignID.String(),
		PledgerID:  env.node.Generate().String(),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
