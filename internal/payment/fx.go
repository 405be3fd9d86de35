package payment

import (
	"github.com/pledgeline/pledgeline/internal/payment/gateway"
	"github.com/pledgeline/pledgeline/internal/payment/repository"
	"github.com/pledgeline/pledgeline/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(gateway.New),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
