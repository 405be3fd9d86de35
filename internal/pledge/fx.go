package pledge

import (
	"github.com/pledgeline/pledgeline/internal/pledge/repository"
	"github.com/pledgeline/pledgeline/internal/pledge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pledge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
