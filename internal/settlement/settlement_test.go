package settlement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	campaignrepo "github.com/pledgeline/pledgeline/internal/campaign/repository"
	"github.com/pledgeline/pledgeline/internal/clock"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
	contributorrepo "github.com/pledgeline/pledgeline/internal/contributor/repository"
	obsmetrics "github.com/pledgeline/pledgeline/internal/observability/metrics"
	paymentdomain "github.com/pledgeline/pledgeline/internal/payment/domain"
	"github.com/pledgeline/pledgeline/internal/payment/gateway"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	pledgerepo "github.com/pledgeline/pledgeline/internal/pledge/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeGateway counts external calls and can be told to fail order creation
// for specific idempotency keys.
type fakeGateway struct {
	mu           sync.Mutex
	contactCalls int
	orderCalls   int
	orders       map[string]gateway.Order
	failKeys     map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:   map[string]gateway.Order{},
		failKeys: map[string]error{},
	}
}

func (f *fakeGateway) CreateContact(ctx context.Context, req gateway.ContactRequest) (gateway.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contactCalls++
	return gateway.Contact{ID: "contact-" + req.Email}, nil
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failKeys[req.IdempotencyKey]; ok {
		return gateway.Order{}, err
	}
	f.orderCalls++
	order := gateway.Order{ID: fmt.Sprintf("order-%s", req.IdempotencyKey)}
	f.orders[req.IdempotencyKey] = order
	return order, nil
}

func (f *fakeGateway) VerifySignature(payload []byte, signature string) error {
	return nil
}

func (f *fakeGateway) ParseEvent(payload []byte) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrInvalidPayload
}

func (f *fakeGateway) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderCalls
}

type fakeCounts struct {
	count int64
	err   error
}

func (f *fakeCounts) Count(ctx context.Context, sourceRef string, windowStart, windowEnd time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:settlement_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripLocks := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocks))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocks))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE contributors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			external_contact_ref TEXT,
			subscription_status TEXT NOT NULL DEFAULT 'none',
			external_subscription_ref TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_contributors_email ON contributors (email)`,
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
			performance_source_ref TEXT NOT NULL,
			metadata TEXT,
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
		`CREATE UNIQUE INDEX ux_pledges_order_ref ON pledges (external_order_ref) WHERE external_order_ref IS NOT NULL`,
		`CREATE TABLE payment_events (
			id INTEGER PRIMARY KEY,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			note TEXT,
			raw_payload TEXT,
			received_at DATETIME,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events (provider_event_id)`,
		`CREATE TABLE settlement_runs (
			id INTEGER PRIMARY KEY,
			campaign_id INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			pledges_total INTEGER NOT NULL DEFAULT 0,
			pledges_settled INTEGER NOT NULL DEFAULT 0,
			pledges_failed INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_settlement_runs_live ON settlement_runs (campaign_id) WHERE outcome = 'in_progress'`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type testEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *fakeGateway
	counts   *fakeCounts
	sched    *Scheduler
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSettlementMetricsForTest()
	obsmetrics.SettlementWithConfig(obsmetrics.Config{ServiceName: "test", Environment: "test"})
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSettlementMetricsForTest()
	})

	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gw := newFakeGateway()
	counts := &fakeCounts{}

	sched, err := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		Clock:           fc,
		GenID:           node,
		CampaignRepo:    campaignrepo.Provide(),
		PledgeRepo:      pledgerepo.Provide(),
		ContributorRepo: contributorrepo.Provide(),
		Gateway:         gw,
		Counts:          counts,
		Config: Config{
			RunInterval:  time.Minute,
			BatchSize:    10,
			LeaseTimeout: 15 * time.Minute,
			JobTimeout:   30 * time.Second,
			Currency:     "USD",
		},
	})
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		node:     node,
		clock:    fc,
		gateway:  gw,
		counts:   counts,
		sched:    sched,
		registry: registry,
	}
}

func (e *testEnv) seedContributor(t *testing.T, email string) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now().UTC()
	require.NoError(t, e.db.Exec(
		`INSERT INTO contributors (id, name, email, subscription_status, created_at, updated_at)
		 VALUES (?, ?, ?, 'none', ?, ?)`,
		id, "Contributor "+email, email, now, now,
	).Error)
	return id
}

func (e *testEnv) seedCampaign(t *testing.T, status campaigndomain.CampaignStatus, endsAgo time.Duration) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now().UTC()
	require.NoError(t, e.db.Exec(
		`INSERT INTO campaigns (id, owner_id, title, start_time, end_time, status,
		    performance_source_ref, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		id, e.node.Generate(), "Season Drive",
		now.Add(-endsAgo-24*time.Hour), now.Add(-endsAgo),
		status, "source-"+id.String(), now, now,
	).Error)
	return id
}

func (e *testEnv) seedPledge(t *testing.T, campaignID, pledgerID snowflake.ID, rate int64, cap *int64) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now().UTC()
	require.NoError(t, e.db.Exec(
		`INSERT INTO pledges (id, campaign_id, pledger_id, amount_per_unit, max_amount,
		    status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		id, campaignID, pledgerID, rate, cap, now, now,
	).Error)
	return id
}

func (e *testEnv) pledgeByID(t *testing.T, id snowflake.ID) pledgedomain.Pledge {
	t.Helper()
	var pledge pledgedomain.Pledge
	require.NoError(t, e.db.Raw(`SELECT * FROM pledges WHERE id = ?`, id).Scan(&pledge).Error)
	require.NotZero(t, pledge.ID)
	return pledge
}

func (e *testEnv) campaignStatus(t *testing.T, id snowflake.ID) campaigndomain.CampaignStatus {
	t.Helper()
	var status string
	require.NoError(t, e.db.Raw(`SELECT status FROM campaigns WHERE id = ?`, id).Scan(&status).Error)
	return campaigndomain.CampaignStatus(status)
}

func (e *testEnv) runOutcomes(t *testing.T, campaignID snowflake.ID) []string {
	t.Helper()
	var outcomes []string
	require.NoError(t, e.db.Raw(
		`SELECT outcome FROM settlement_runs WHERE campaign_id = ? ORDER BY started_at ASC, id ASC`,
		campaignID,
	).Scan(&outcomes).Error)
	return outcomes
}

func int64ptr(v int64) *int64 { return &v }

func TestSettleCampaignWorkedExample(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 120

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	bob := env.seedContributor(t, "bob@example.com")
	p1 := env.seedPledge(t, campaignID, alice, 10, nil)
	p2 := env.seedPledge(t, campaignID, bob, 50, int64ptr(2000))

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	pledge1 := env.pledgeByID(t, p1)
	require.Equal(t, pledgedomain.PledgeStatusInvoiced, pledge1.Status)
	require.NotNil(t, pledge1.FinalAmount)
	require.EqualValues(t, 1200, *pledge1.FinalAmount)
	require.NotNil(t, pledge1.ExternalOrderRef)

	pledge2 := env.pledgeByID(t, p2)
	require.Equal(t, pledgedomain.PledgeStatusInvoiced, pledge2.Status)
	require.NotNil(t, pledge2.FinalAmount)
	require.EqualValues(t, 2000, *pledge2.FinalAmount)
	require.NotNil(t, pledge2.ExternalOrderRef)
	require.NotEqual(t, *pledge1.ExternalOrderRef, *pledge2.ExternalOrderRef)

	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
	require.Equal(t, []string{"succeeded"}, env.runOutcomes(t, campaignID))
	require.Equal(t, 2, env.gateway.orderCount())
}

func TestSettleIsIdempotentAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 7

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	pledgeID := env.seedPledge(t, campaignID, alice, 100, nil)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))
	firstRef := *env.pledgeByID(t, pledgeID).ExternalOrderRef

	// A second tick finds nothing to do: the campaign is completed and the
	// pledge already carries its order ref.
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))
	require.Equal(t, firstRef, *env.pledgeByID(t, pledgeID).ExternalOrderRef)
	require.Equal(t, 1, env.gateway.orderCount())

	// Even a forced re-settle of the same campaign must not create a second
	// order for an already invoiced pledge.
	require.NoError(t, env.db.Exec(
		`UPDATE campaigns SET status = 'settling' WHERE id = ?`, campaignID,
	).Error)
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))
	require.Equal(t, firstRef, *env.pledgeByID(t, pledgeID).ExternalOrderRef)
	require.Equal(t, 1, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
}

func TestZeroPerformanceCountFulfillsZero(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 0

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	pledgeID := env.seedPledge(t, campaignID, alice, 100, nil)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	pledge := env.pledgeByID(t, pledgeID)
	require.Equal(t, pledgedomain.PledgeStatusFulfilled, pledge.Status)
	require.NotNil(t, pledge.FinalAmount)
	require.EqualValues(t, 0, *pledge.FinalAmount)
	require.Nil(t, pledge.ExternalOrderRef)
	require.Equal(t, 0, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
}

func TestZeroPledgesCompletesImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 500

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, 0, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
	require.Equal(t, []string{"succeeded"}, env.runOutcomes(t, campaignID))
}

func TestPartialFailureIsolatesAndRetries(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 10

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	bob := env.seedContributor(t, "bob@example.com")
	p1 := env.seedPledge(t, campaignID, alice, 10, nil)
	p2 := env.seedPledge(t, campaignID, bob, 20, nil)

	env.gateway.failKeys[p2.String()] = fmt.Errorf("%w: status 503", paymentdomain.ErrGatewayUnavailable)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	// One bad pledge never blocks the others.
	require.Equal(t, pledgedomain.PledgeStatusInvoiced, env.pledgeByID(t, p1).Status)
	failed := env.pledgeByID(t, p2)
	require.Equal(t, pledgedomain.PledgeStatusActive, failed.Status)
	require.NotNil(t, failed.LastError)
	require.Equal(t, campaigndomain.CampaignStatusSettling, env.campaignStatus(t, campaignID))
	require.Equal(t, []string{"failed_partial"}, env.runOutcomes(t, campaignID))

	// Next tick retries only the unresolved pledge.
	delete(env.gateway.failKeys, p2.String())
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, pledgedomain.PledgeStatusInvoiced, env.pledgeByID(t, p2).Status)
	require.Equal(t, 2, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
	require.Equal(t, []string{"failed_partial", "succeeded"}, env.runOutcomes(t, campaignID))
}

func TestCancelledPledgeIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 10

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	bob := env.seedContributor(t, "bob@example.com")
	p1 := env.seedPledge(t, campaignID, alice, 10, nil)
	p2 := env.seedPledge(t, campaignID, bob, 20, nil)
	require.NoError(t, env.db.Exec(`UPDATE pledges SET status = 'cancelled' WHERE id = ?`, p2).Error)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, pledgedomain.PledgeStatusInvoiced, env.pledgeByID(t, p1).Status)
	cancelled := env.pledgeByID(t, p2)
	require.Equal(t, pledgedomain.PledgeStatusCancelled, cancelled.Status)
	require.Nil(t, cancelled.ExternalOrderRef)
	require.Equal(t, 1, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
}

func TestLeaseConflictSkipsCampaign(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 10

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	env.seedPledge(t, campaignID, alice, 10, nil)

	// Another process holds the lease.
	require.NoError(t, env.db.Exec(
		`INSERT INTO settlement_runs (id, campaign_id, outcome, started_at)
		 VALUES (?, ?, 'in_progress', ?)`,
		env.node.Generate(), campaignID, env.clock.Now().UTC(),
	).Error)

	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, 0, env.gateway.orderCount())
	require.Equal(t, campaigndomain.CampaignStatusActive, env.campaignStatus(t, campaignID))
}

func TestStaleRunIsReclaimedThenSettled(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 10

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusSettling, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	pledgeID := env.seedPledge(t, campaignID, alice, 10, nil)

	// A crashed run left its lease behind 20 minutes ago.
	require.NoError(t, env.db.Exec(
		`INSERT INTO settlement_runs (id, campaign_id, outcome, started_at)
		 VALUES (?, ?, 'in_progress', ?)`,
		env.node.Generate(), campaignID, env.clock.Now().UTC().Add(-20*time.Minute),
	).Error)

	require.NoError(t, env.sched.RunOnce(context.Background()))

	require.Equal(t, pledgedomain.PledgeStatusInvoiced, env.pledgeByID(t, pledgeID).Status)
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
	outcomes := env.runOutcomes(t, campaignID)
	require.Len(t, outcomes, 2)
	require.Contains(t, outcomes, "failed_partial")
	require.Contains(t, outcomes, "succeeded")
}

func TestCountProviderOutageDefersSettlement(t *testing.T) {
	env := newTestEnv(t)
	env.counts.err = fmt.Errorf("stats endpoint down")

	campaignID := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	alice := env.seedContributor(t, "alice@example.com")
	pledgeID := env.seedPledge(t, campaignID, alice, 10, nil)

	require.Error(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, pledgedomain.PledgeStatusActive, env.pledgeByID(t, pledgeID).Status)
	require.Equal(t, 0, env.gateway.orderCount())
	require.Equal(t, []string{"failed_partial"}, env.runOutcomes(t, campaignID))

	// Once the collaborator recovers, settlement proceeds.
	env.counts.err = nil
	env.counts.count = 3
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))
	require.Equal(t, pledgedomain.PledgeStatusInvoiced, env.pledgeByID(t, pledgeID).Status)
	require.Equal(t, campaigndomain.CampaignStatusCompleted, env.campaignStatus(t, campaignID))
}

func TestContactRefIsCreatedOnceAndReused(t *testing.T) {
	env := newTestEnv(t)
	env.counts.count = 5

	alice := env.seedContributor(t, "alice@example.com")

	first := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	env.seedPledge(t, first, alice, 10, nil)
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	second := env.seedCampaign(t, campaigndomain.CampaignStatusActive, time.Hour)
	env.seedPledge(t, second, alice, 10, nil)
	require.NoError(t, env.sched.SettleCampaignsJob(context.Background()))

	require.Equal(t, 1, env.gateway.contactCalls)

	var contributor contributordomain.Contributor
	require.NoError(t, env.db.Raw(`SELECT * FROM contributors WHERE id = ?`, alice).Scan(&contributor).Error)
	require.NotNil(t, contributor.ExternalContactRef)
	require.Equal(t, "contact-alice@example.com", *contributor.ExternalContactRef)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	env := newTestEnv(t)

	err := env.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
}
