package brandvoice

import (
	"github.com/smallbiznis/reviewdesk/internal/brandvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("brandvoice.service",
	fx.Provide(service.NewService),
)
