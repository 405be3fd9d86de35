package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
)

type registerContributorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) RegisterContributor(c *gin.Context) {
	var req registerContributorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.contributorSvc.Register(c.Request.Context(), contributordomain.RegisterContributorRequest{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetContributor(c *gin.Context) {
	contributor, err := s.contributorSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contributor)
}
