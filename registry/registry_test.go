package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/core"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	r.Register(Descriptor{AgentID: "a2", Capabilities: []string{"data_analysis", "data_export"}})
	r.Register(Descriptor{AgentID: "a3", Capabilities: []string{"report_generation"}})

	ids := r.Resolve("data_analysis")
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
	assert.Equal(t, []string{"a3"}, r.Resolve("report_generation"))
	assert.Empty(t, r.Resolve("nonexistent"))
}

func TestResolveOrdersByFreshestHeartbeat(t *testing.T) {
	r := New()
	now := time.Now()
	clock := now
	r.SetNowFunc(func() time.Time { return clock })

	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	clock = now.Add(time.Second)
	r.Register(Descriptor{AgentID: "a2", Capabilities: []string{"data_analysis"}})

	assert.Equal(t, []string{"a2", "a1"}, r.Resolve("data_analysis"))

	clock = now.Add(2 * time.Second)
	require.NoError(t, r.Heartbeat("a1"))
	assert.Equal(t, []string{"a1", "a2"}, r.Resolve("data_analysis"))
}

func TestResolveSkipsBusyAgents(t *testing.T) {
	r := New()
	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	r.Register(Descriptor{AgentID: "a2", Capabilities: []string{"data_analysis"}})

	require.NoError(t, r.SetStatus("a1", StatusBusy))
	assert.Equal(t, []string{"a2"}, r.Resolve("data_analysis"))

	require.NoError(t, r.SetStatus("a1", StatusIdle))
	assert.Len(t, r.Resolve("data_analysis"), 2)
}

func TestMissedHeartbeatsMarkUnavailable(t *testing.T) {
	r := New(func(o *Options) {
		o.HeartbeatInterval = time.Second
		o.MissThreshold = 3
	})
	now := time.Now()
	clock := now
	r.SetNowFunc(func() time.Time { return clock })

	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})

	// Two missed intervals: still live.
	clock = now.Add(2 * time.Second)
	r.CheckLiveness()
	d, ok := r.Get("a1")
	require.True(t, ok)
	assert.Equal(t, StatusIdle, d.Status)

	// Past the third interval: unavailable and excluded from resolution.
	clock = now.Add(3*time.Second + time.Millisecond)
	r.CheckLiveness()
	d, _ = r.Get("a1")
	assert.Equal(t, StatusUnavailable, d.Status)
	assert.Empty(t, r.Resolve("data_analysis"))
}

func TestUnavailableAgentMustReRegister(t *testing.T) {
	r := New(func(o *Options) {
		o.HeartbeatInterval = time.Second
		o.MissThreshold = 3
	})
	now := time.Now()
	clock := now
	r.SetNowFunc(func() time.Time { return clock })

	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	clock = now.Add(time.Minute)
	r.CheckLiveness()

	// A stray beat does not revive it.
	err := r.Heartbeat("a1")
	require.Error(t, err)
	assert.Equal(t, core.KindNoAgentAvailable, core.KindOf(err))
	assert.Empty(t, r.Resolve("data_analysis"))

	// Re-registration clears the verdict.
	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	assert.Equal(t, []string{"a1"}, r.Resolve("data_analysis"))
	assert.NoError(t, r.Heartbeat("a1"))
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := New()
	err := r.Heartbeat("ghost")
	require.Error(t, err)
	assert.Equal(t, core.KindRouting, core.KindOf(err))
}

func TestDeregister(t *testing.T) {
	r := New()
	r.Register(Descriptor{AgentID: "a1", Capabilities: []string{"data_analysis"}})
	r.Deregister("a1")

	_, ok := r.Get("a1")
	assert.False(t, ok)
	assert.Empty(t, r.Resolve("data_analysis"))
}

func TestSnapshotSortedAndIsolated(t *testing.T) {
	r := New()
	r.Register(Descriptor{AgentID: "b", Capabilities: []string{"x"}})
	r.Register(Descriptor{AgentID: "a", Capabilities: []string{"y"}})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].AgentID)

	snap[0].Capabilities[0] = "mutated"
	d, _ := r.Get("a")
	assert.Equal(t, "y", d.Capabilities[0])
}
