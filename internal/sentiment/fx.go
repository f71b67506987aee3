package sentiment

import (
	"github.com/smallbiznis/reviewdesk/internal/sentiment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sentiment.service",
	fx.Provide(service.NewService),
)
