package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
)

func (s *Server) CreateReview(c *gin.Context) {
	var req reviewdomain.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = accountIDFrom(c)

	review, err := s.reviewSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": review})
}

func (s *Server) ListReviews(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Platform string `form:"platform"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reviewSvc.List(c.Request.Context(), reviewdomain.ListReviewRequest{
		AccountID:  accountIDFrom(c),
		Platform:   strings.TrimSpace(query.Platform),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReview(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	review, err := s.reviewSvc.Get(c.Request.Context(), accountIDFrom(c), reviewID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": review})
}

func (s *Server) DeleteReview(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.reviewSvc.Delete(c.Request.Context(), accountIDFrom(c), reviewID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) AnalyzeSentiment(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.sentimentSvc.Analyze(c.Request.Context(), accountIDFrom(c), reviewID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
