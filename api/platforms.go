package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/orchestrator/model"
)

func (s *Server) createPlatform(c *gin.Context) {
	var body struct {
		Name  string `json:"name" binding:"required"`
		Layer string `json:"layer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := &model.Platform{Name: body.Name, Layer: body.Layer, Active: true}
	created, err := s.store.CreatePlatform(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listPlatforms(c *gin.Context) {
	platforms, err := s.store.ListPlatforms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, platforms)
}
