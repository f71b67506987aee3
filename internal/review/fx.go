package review

import (
	"github.com/smallbiznis/reviewdesk/internal/review/service"
	"go.uber.org/fx"
)

var Module = fx.Module("review.service",
	fx.Provide(service.NewDuplicateGuard),
	fx.Provide(service.NewService),
)
