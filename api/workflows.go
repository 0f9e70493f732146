package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/orchestrator/model"
)

// createWorkflow implements §6 createWorkflow. The surface context, if any,
// travels as optional fields on the request body rather than derived from
// auth middleware — this binding has none.
func (s *Server) createWorkflow(c *gin.Context) {
	var body struct {
		Type                 string                `json:"type" binding:"required"`
		Name                 string                `json:"name" binding:"required"`
		PlatformID           *string               `json:"platform_id"`
		WorkflowDefinitionID *string               `json:"workflow_definition_id"`
		InputData            map[string]any        `json:"input_data"`
		SurfaceContext       *model.SurfaceContext `json:"surface_context"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := model.CreateWorkflowRequest{
		Type: body.Type, Name: body.Name, PlatformID: body.PlatformID,
		WorkflowDefinitionID: body.WorkflowDefinitionID, InputData: body.InputData,
	}
	w, err := s.machine.Create(c.Request.Context(), req, "api", body.SurfaceContext)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// getWorkflow implements §6 getWorkflow.
func (s *Server) getWorkflow(c *gin.Context) {
	w, err := s.machine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// cancelWorkflow implements §6 cancelWorkflow.
func (s *Server) cancelWorkflow(c *gin.Context) {
	if err := s.machine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
