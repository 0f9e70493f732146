package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/orchestrator/model"
)

// createDefinition adds a WorkflowDefinition under platforms/:id. The
// router's per-platform cache is invalidated so the new definition is
// visible to the next workflow creation; that cache has no TTL of its own.
func (s *Server) createDefinition(c *gin.Context) {
	platformID := c.Param("id")
	var body struct {
		Name    string                  `json:"name" binding:"required"`
		Version int                     `json:"version"`
		Enabled bool                    `json:"enabled"`
		Stages  []model.StageDefinition `json:"stages" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := &model.WorkflowDefinition{
		PlatformID: platformID, Name: body.Name, Version: body.Version,
		Enabled: body.Enabled, Stages: body.Stages,
	}
	created, err := s.store.CreateDefinition(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	s.router.InvalidatePlatform(platformID)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listDefinitions(c *gin.Context) {
	defs, err := s.store.ListDefinitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) getDefinition(c *gin.Context) {
	def, err := s.store.GetDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) updateDefinition(c *gin.Context) {
	id := c.Param("id")
	existing, err := s.store.GetDefinition(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	var body struct {
		Name    string                  `json:"name"`
		Version int                     `json:"version"`
		Enabled bool                    `json:"enabled"`
		Stages  []model.StageDefinition `json:"stages"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	existing.Name, existing.Version, existing.Enabled, existing.Stages = body.Name, body.Version, body.Enabled, body.Stages
	updated, err := s.store.UpdateDefinition(c.Request.Context(), existing)
	if err != nil {
		writeError(c, err)
		return
	}
	s.router.InvalidatePlatform(existing.PlatformID)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteDefinition(c *gin.Context) {
	id := c.Param("id")
	existing, err := s.store.GetDefinition(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.store.DeleteDefinition(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.router.InvalidatePlatform(existing.PlatformID)
	c.Status(http.StatusNoContent)
}

func (s *Server) setDefinitionEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		existing, err := s.store.GetDefinition(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := s.store.SetDefinitionEnabled(c.Request.Context(), id, enabled); err != nil {
			writeError(c, err)
			return
		}
		s.router.InvalidatePlatform(existing.PlatformID)
		c.Status(http.StatusNoContent)
	}
}
