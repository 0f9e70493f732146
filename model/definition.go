package model

// RouteTarget is either the name of another stage, the END sentinel, or the
// skip sentinel meaning "continue as if success to the next stage in list
// order" (on_failure only).
type RouteTarget = string

// END is the sentinel routing target denoting workflow completion.
const END RouteTarget = "END"

// Skip is the sentinel on_failure value meaning "treat this failure as a
// success and advance to the next stage in definition order."
const Skip RouteTarget = "skip"

// StageDefinition is one node in a WorkflowDefinition's stage graph.
type StageDefinition struct {
	Name       string
	AgentType  string
	Weight     int
	TimeoutMS  *int64
	MaxRetries *int
	OnSuccess  RouteTarget
	OnFailure  RouteTarget
}

// WorkflowDefinition is a per-platform, versioned, named stage graph.
type WorkflowDefinition struct {
	ID         string
	PlatformID string
	Name       string
	Version    int
	Enabled    bool
	Stages     []StageDefinition
}

// StageByName returns the StageDefinition named name, or false if absent.
func (d *WorkflowDefinition) StageByName(name string) (StageDefinition, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// FirstStage returns the first stage in definition order, or false if the
// definition has no stages.
func (d *WorkflowDefinition) FirstStage() (StageDefinition, bool) {
	if len(d.Stages) == 0 {
		return StageDefinition{}, false
	}
	return d.Stages[0], true
}

// NextInOrder returns the stage immediately following name in definition
// order, or false if name is the last stage or not found.
func (d *WorkflowDefinition) NextInOrder(name string) (StageDefinition, bool) {
	for i, s := range d.Stages {
		if s.Name == name && i+1 < len(d.Stages) {
			return d.Stages[i+1], true
		}
	}
	return StageDefinition{}, false
}

// Platform owns zero or more WorkflowDefinitions and PlatformSurfaces.
type Platform struct {
	ID     string
	Name   string
	Layer  string
	Active bool
}

// SurfaceType is an ingress channel type a platform may or may not admit.
type SurfaceType string

const (
	SurfaceREST       SurfaceType = "REST"
	SurfaceWebhook    SurfaceType = "WEBHOOK"
	SurfaceCLI        SurfaceType = "CLI"
	SurfaceDashboard  SurfaceType = "DASHBOARD"
	SurfaceMobileAPI  SurfaceType = "MOBILE_API"
)

// PlatformSurface is an allow-list entry for one (platform, surface type)
// pair.
type PlatformSurface struct {
	PlatformID  string
	SurfaceType SurfaceType
	Config      map[string]any
	Enabled     bool
}
