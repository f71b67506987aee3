package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
)

type createAccountRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accountSvc.Provision(c.Request.Context(), accountdomain.ProvisionRequest{
		Tier: strings.TrimSpace(req.Tier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	summary, err := s.accountSvc.Summary(c.Request.Context(), accountIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ListUsage(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Pool string `form:"pool"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListUsage(c.Request.Context(), ledgerdomain.ListUsageRequest{
		AccountID:  accountIDFrom(c),
		Pool:       ledgerdomain.Pool(strings.ToLower(strings.TrimSpace(query.Pool))),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetBrandVoice(c *gin.Context) {
	voice, err := s.brandVoiceSvc.Get(c.Request.Context(), accountIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": voice})
}

func (s *Server) UpsertBrandVoice(c *gin.Context) {
	var req brandvoicedomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = accountIDFrom(c)

	voice, err := s.brandVoiceSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": voice})
}
