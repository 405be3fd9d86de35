package campaign

import (
	"github.com/pledgeline/pledgeline/internal/campaign/repository"
	"github.com/pledgeline/pledgeline/internal/campaign/service"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
