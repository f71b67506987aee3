package response

import (
	"github.com/smallbiznis/reviewdesk/internal/response/service"
	"go.uber.org/fx"
)

var Module = fx.Module("response.service",
	fx.Provide(service.NewService),
)
