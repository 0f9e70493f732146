// Package surface implements the surface binding gate (C4): on every
// ingress carrying a platform_id and a surface_type, it rejects unless the
// (platform_id, surface_type) pair is allow-listed and enabled.
package surface

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
)

// Store is the C2 slice the gate depends on.
type Store interface {
	PlatformSurface(ctx context.Context, platformID string, surfaceType model.SurfaceType) (*model.PlatformSurface, error)
}

// Gate is the C4 surface binding gate. It caches lookups with a fixed TTL:
// §9 DESIGN NOTES permits either short TTLs or pub/sub invalidation for the
// "global mutable cache" pattern; this implementation takes the TTL option,
// plus an explicit Invalidate for mutation endpoints that want tighter
// bounds than the TTL alone provides.
type Gate struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	surface  *model.PlatformSurface
	cachedAt time.Time
}

// DefaultCacheTTL bounds how long a just-disabled surface may still be
// admitted by a cached "enabled" read.
const DefaultCacheTTL = 30 * time.Second

// NewGate constructs a Gate backed by store with the given cache TTL. A
// zero or negative ttl is replaced with DefaultCacheTTL.
func NewGate(store Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Gate{store: store, ttl: ttl, now: time.Now, cache: map[string]cacheEntry{}}
}

// Invalidate drops the cached entry for (platformID, surfaceType). Callers
// invoke this from every surface enable/disable/update mutation endpoint.
func (g *Gate) Invalidate(platformID string, surfaceType model.SurfaceType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, cacheKey(platformID, surfaceType))
}

// Check enforces §4.6: if sc is nil or carries no platform_id, the check is
// skipped (legacy workflow). Otherwise the (platform_id, surface_type) pair
// must resolve to an enabled PlatformSurface.
func (g *Gate) Check(ctx context.Context, sc *model.SurfaceContext) error {
	if sc == nil || sc.PlatformID == "" {
		return nil
	}

	surf, err := g.lookup(ctx, sc.PlatformID, sc.SurfaceType)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "surface binding lookup failed", err)
	}
	if surf == nil || !surf.Enabled {
		return orcherr.New(orcherr.KindSurfaceNotBound,
			"surface "+string(sc.SurfaceType)+" not enabled for platform "+sc.PlatformID)
	}
	return nil
}

func (g *Gate) lookup(ctx context.Context, platformID string, surfaceType model.SurfaceType) (*model.PlatformSurface, error) {
	key := cacheKey(platformID, surfaceType)

	g.mu.Lock()
	if entry, ok := g.cache[key]; ok && g.now().Sub(entry.cachedAt) < g.ttl {
		g.mu.Unlock()
		return entry.surface, nil
	}
	g.mu.Unlock()

	surf, err := g.store.PlatformSurface(ctx, platformID, surfaceType)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[key] = cacheEntry{surface: surf, cachedAt: g.now()}
	g.mu.Unlock()
	return surf, nil
}

func cacheKey(platformID string, surfaceType model.SurfaceType) string {
	return platformID + "|" + string(surfaceType)
}
