package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pledgeline/pledgeline/internal/clock"
	"github.com/pledgeline/pledgeline/internal/config"
	"github.com/pledgeline/pledgeline/internal/migration"
	"github.com/pledgeline/pledgeline/internal/observability"
	"github.com/pledgeline/pledgeline/internal/server"
	"github.com/pledgeline/pledgeline/pkg/db"
	"go.uber.org/fx"
)

// API only. Settlement runs in apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
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
