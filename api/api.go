// Package api is the thin gin-based ingress binding over the workflow
// state machine and the platform/definition/surface CRUD operations (§6
// External Interfaces). It performs no business logic of its own — every
// handler validates the request shape and delegates straight through.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/stage"
	"github.com/flowforge/orchestrator/store"
	"github.com/flowforge/orchestrator/surface"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/workflow"
)

// Server wires gin routes to the engine's ports.
type Server struct {
	machine     *workflow.Machine
	router      *stage.Router
	store       store.Store
	surfaceGate *surface.Gate
	logger      telemetry.Logger
}

// Options configures a Server.
type Options struct {
	Machine     *workflow.Machine
	Router      *stage.Router
	Store       store.Store
	SurfaceGate *surface.Gate
	Logger      telemetry.Logger
}

// New constructs a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{machine: opts.Machine, router: opts.Router, store: opts.Store, surfaceGate: opts.SurfaceGate, logger: logger}
}

// Register attaches every route to r (§6 "Ingress" and "Definition CRUD").
func (s *Server) Register(r *gin.Engine) {
	r.POST("/workflows", s.createWorkflow)
	r.GET("/workflows/:id", s.getWorkflow)
	r.POST("/workflows/:id/cancel", s.cancelWorkflow)

	r.POST("/platforms", s.createPlatform)
	r.GET("/platforms", s.listPlatforms)

	r.POST("/platforms/:id/workflow-definitions", s.createDefinition)
	r.GET("/platforms/:id/workflow-definitions", s.listDefinitions)
	r.GET("/workflow-definitions/:id", s.getDefinition)
	r.PUT("/workflow-definitions/:id", s.updateDefinition)
	r.DELETE("/workflow-definitions/:id", s.deleteDefinition)
	r.POST("/workflow-definitions/:id/enable", s.setDefinitionEnabled(true))
	r.POST("/workflow-definitions/:id/disable", s.setDefinitionEnabled(false))

	r.GET("/platforms/:id/surfaces", s.listSurfaces)
	r.PUT("/platforms/:id/surfaces/:type", s.upsertSurface)
	r.POST("/platforms/:id/surfaces/:type/enable", s.setSurfaceEnabled(true))
	r.POST("/platforms/:id/surfaces/:type/disable", s.setSurfaceEnabled(false))
}

// writeError maps an engine *orcherr.Error to an HTTP status per §7's
// "Surfaced as" column.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	typed, ok := orcherr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch typed.Kind {
	case orcherr.KindValidation, orcherr.KindDefinitionInvalid, orcherr.KindSurfaceNotBound:
		status = http.StatusBadRequest
	case orcherr.KindPlatformNotFound:
		status = http.StatusNotFound
	case orcherr.KindAgentUnavailable, orcherr.KindConflict:
		status = http.StatusConflict
	case orcherr.KindTimeout:
		status = http.StatusGatewayTimeout
	case orcherr.KindTransport:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": typed.Reason, "kind": string(typed.Kind)})
}
