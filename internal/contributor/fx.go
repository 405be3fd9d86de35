package contributor

import (
	"github.com/pledgeline/pledgeline/internal/contributor/repository"
	"github.com/pledgeline/pledgeline/internal/contributor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("contributor.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
