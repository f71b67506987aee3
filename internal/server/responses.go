package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
)

type toneRequest struct {
	Tone string `json:"tone"`
}

type editRequest struct {
	Text string `json:"text"`
}

func (s *Server) GetResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.responseSvc.Get(c.Request.Context(), accountIDFrom(c), reviewID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GenerateResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req toneRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.responseSvc.Generate(c.Request.Context(), responsedomain.GenerateRequest{
		AccountID: accountIDFrom(c),
		ReviewID:  reviewID,
		Tone:      req.Tone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RegenerateResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req toneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.responseSvc.Regenerate(c.Request.Context(), responsedomain.RegenerateRequest{
		AccountID: accountIDFrom(c),
		ReviewID:  reviewID,
		Tone:      req.Tone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EditResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.responseSvc.ManualEdit(c.Request.Context(), responsedomain.EditRequest{
		AccountID: accountIDFrom(c),
		ReviewID:  reviewID,
		Text:      req.Text,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApproveResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.responseSvc.Approve(c.Request.Context(), accountIDFrom(c), reviewID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteResponse(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.responseSvc.Delete(c.Request.Context(), accountIDFrom(c), reviewID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListResponseVersions(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	versions, err := s.responseSvc.ListVersions(c.Request.Context(), accountIDFrom(c), reviewID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": versions})
}

func (s *Server) RestoreResponseVersion(c *gin.Context) {
	reviewID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	versionID, err := parseIDParam(c, "version_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.responseSvc.RestoreVersion(c.Request.Context(), responsedomain.RestoreRequest{
		AccountID: accountIDFrom(c),
		ReviewID:  reviewID,
		VersionID: versionID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
