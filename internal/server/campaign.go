package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
)

type createCampaignRequest struct {
	OwnerID              string    `json:"owner_id"`
	Title                string    `json:"title"`
	Cause                string    `json:"cause"`
	Description          string    `json:"description"`
	GoalAmount           *int64    `json:"goal_amount"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	PerformanceSourceRef string    `json:"performance_source_ref"`
}

func (s *Server) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.campaignSvc.Create(c.Request.Context(), campaigndomain.CreateCampaignRequest{
		OwnerID:              req.OwnerID,
		Title:                req.Title,
		Cause:                req.Cause,
		Description:          req.Description,
		GoalAmount:           req.GoalAmount,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		PerformanceSourceRef: req.PerformanceSourceRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListCampaigns(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	campaigns, err := s.campaignSvc.List(c.Request.Context(), campaigndomain.ListCampaignRequest{
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (s *Server) GetCampaign(c *gin.Context) {
	campaign, err := s.campaignSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) GetCampaignSummary(c *gin.Context) {
	summary, err := s.campaignSvc.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) PublishCampaign(c *gin.Context) {
	campaign, err := s.campaignSvc.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}
