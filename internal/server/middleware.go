package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/reviewdesk/internal/observability/context"
)

const (
	HeaderAccount       = "X-Account-ID"
	contextAccountIDKey = "account_id"
)

// AccountRequired resolves the calling account from the X-Account-ID header.
// Authentication sits in front of this service; the header is trusted.
func (s *Server) AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderAccount))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		accountID, err := snowflake.ParseString(raw)
		if err != nil || accountID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if _, err := s.accountSvc.Get(ctx, accountID); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAccountIDKey, accountID)
		c.Request = c.Request.WithContext(obscontext.WithAccountID(ctx, accountID.String()))
		c.Next()
	}
}

func accountIDFrom(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextAccountIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}
