package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/agentregistry/memory"
	"github.com/flowforge/orchestrator/model"
)

func TestRegistry_ExistsHonorsPlatformScope(t *testing.T) {
	r := memory.New(0)
	platformA := "platform-a"
	require.NoError(t, r.Register(context.Background(), model.AgentRegistryEntry{
		AgentID: "a1", AgentType: "scaffold", PlatformID: &platformA,
	}))
	require.NoError(t, r.Register(context.Background(), model.AgentRegistryEntry{
		AgentID: "a2", AgentType: "unscoped-scaffold",
	}))

	platformB := "platform-b"
	ok, err := r.Exists(context.Background(), "scaffold", &platformB)
	require.NoError(t, err)
	require.False(t, ok, "an agent scoped to platform-a must not serve platform-b")

	ok, err = r.Exists(context.Background(), "scaffold", &platformA)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Exists(context.Background(), "unscoped-scaffold", &platformB)
	require.NoError(t, err)
	require.True(t, ok, "an unscoped agent must serve every platform")
}

func TestRegistry_StaleHeartbeatMarksOffline(t *testing.T) {
	r := memory.New(50 * time.Millisecond)
	require.NoError(t, r.Register(context.Background(), model.AgentRegistryEntry{AgentID: "a1", AgentType: "validation"}))

	ok, err := r.Exists(context.Background(), "validation", nil)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	ok, err = r.Exists(context.Background(), "validation", nil)
	require.NoError(t, err)
	require.False(t, ok, "an agent with no heartbeat past the staleness threshold must not count as online")

	require.NoError(t, r.Heartbeat(context.Background(), "a1"))
	ok, err = r.Exists(context.Background(), "validation", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegistry_DeregisterRemovesAgent(t *testing.T) {
	r := memory.New(0)
	require.NoError(t, r.Register(context.Background(), model.AgentRegistryEntry{AgentID: "a1", AgentType: "e2e"}))
	require.NoError(t, r.Deregister(context.Background(), "a1"))

	ok, err := r.Exists(context.Background(), "e2e", nil)
	require.NoError(t, err)
	require.False(t, ok)
}
