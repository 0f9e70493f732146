package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/orchestrator/model"
)

func (s *Server) listSurfaces(c *gin.Context) {
	surfaces, err := s.store.ListSurfaces(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, surfaces)
}

// upsertSurface creates or replaces the (platform, surface type) allow-list
// entry. The surface gate's cache is invalidated so the change takes effect
// on the very next createWorkflow call through that surface.
func (s *Server) upsertSurface(c *gin.Context) {
	platformID := c.Param("id")
	surfaceType := model.SurfaceType(c.Param("type"))
	var body struct {
		Config  map[string]any `json:"config"`
		Enabled bool           `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	surf := &model.PlatformSurface{PlatformID: platformID, SurfaceType: surfaceType, Config: body.Config, Enabled: body.Enabled}
	if err := s.store.UpsertSurface(c.Request.Context(), surf); err != nil {
		writeError(c, err)
		return
	}
	s.surfaceGate.Invalidate(platformID, surfaceType)
	c.Status(http.StatusNoContent)
}

func (s *Server) setSurfaceEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		platformID := c.Param("id")
		surfaceType := model.SurfaceType(c.Param("type"))
		if err := s.store.SetSurfaceEnabled(c.Request.Context(), platformID, surfaceType, enabled); err != nil {
			writeError(c, err)
			return
		}
		s.surfaceGate.Invalidate(platformID, surfaceType)
		c.Status(http.StatusNoContent)
	}
}
