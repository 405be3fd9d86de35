package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/campaign"
	"github.com/pledgeline/pledgeline/internal/clock"
	"github.com/pledgeline/pledgeline/internal/config"
	"github.com/pledgeline/pledgeline/internal/contributor"
	"github.com/pledgeline/pledgeline/internal/observability"
	"github.com/pledgeline/pledgeline/internal/payment"
	"github.com/pledgeline/pledgeline/internal/performance"
	"github.com/pledgeline/pledgeline/internal/pledge"
	"github.com/pledgeline/pledgeline/internal/settlement"
	"github.com/pledgeline/pledgeline/pkg/db"
	"go.uber.org/fx"
)

// Settlement scheduler only, no HTTP server. Schema is owned by the API
// process; this binary assumes migrations already ran.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain repositories and the gateway the scheduler drives.
		performance.Module,
		campaign.Module,
		pledge.Module,
		contributor.Module,
		payment.Module,

		settlement.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
