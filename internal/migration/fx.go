package migration

import (
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	"github.com/pledgeline/pledgeline/internal/config"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
	paymentdomain "github.com/pledgeline/pledgeline/internal/payment/domain"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"github.com/pledgeline/pledgeline/internal/settlement"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			return migrateDev(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

// migrateDev builds the schema on non-postgres databases (local sqlite).
// AutoMigrate covers the tables; the partial unique index backing the
// settlement lease has to be created by hand because gorm tags cannot
// express it.
func migrateDev(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&contributordomain.Contributor{},
		&campaigndomain.Campaign{},
		&pledgedomain.Pledge{},
		&paymentdomain.EventRecord{},
		&settlement.SettlementRun{},
	); err != nil {
		return err
	}
	return conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_settlement_runs_live
		 ON settlement_runs (campaign_id) WHERE outcome = 'in_progress'`,
	).Error
}
