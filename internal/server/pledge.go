package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
)

type createPledgeRequest struct {
	PledgerID     string `json:"pledger_id"`
	AmountPerUnit int64  `json:"amount_per_unit"`
	MaxAmount     *int64 `json:"max_amount"`
}

func (s *Server) CreatePledge(c *gin.Context) {
	var req createPledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.pledgeSvc.Create(c.Request.Context(), pledgedomain.CreatePledgeRequest{
		CampaignID:    c.Param("id"),
		PledgerID:     req.PledgerID,
		AmountPerUnit: req.AmountPerUnit,
		MaxAmount:     req.MaxAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListCampaignPledges(c *gin.Context) {
	pledges, err := s.pledgeSvc.ListByCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pledges": pledges})
}

func (s *Server) CancelPledge(c *gin.Context) {
	err := s.pledgeSvc.Cancel(c.Request.Context(), pledgedomain.CancelPledgeRequest{
		CampaignID: c.Param("id"),
		PledgerID:  c.Param("pledger_id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListContributorPledges(c *gin.Context) {
	pledges, err := s.pledgeSvc.ListByPledger(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pledges": pledges})
}
