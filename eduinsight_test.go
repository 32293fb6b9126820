package eduinsight

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/config"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/iface"
	"github.com/eduinsight/eduinsight/internal/testutil"
	"github.com/eduinsight/eduinsight/model"
	"github.com/eduinsight/eduinsight/registry"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Coordinator.StageTimeout = 2 * time.Second
	cfg.Coordinator.ReportDeadline = 5 * time.Second
	cfg.Coordinator.RetryBackoff = 10 * time.Millisecond
	cfg.Coordinator.ResolveBackoff = 10 * time.Millisecond
	cfg.LLM.Provider = "mock"
	cfg.LLM.Timeout = time.Second
	return cfg
}

func startSystem(t *testing.T) *System {
	t.Helper()
	s, err := New(func(o *Options) {
		o.Config = testConfig()
		o.Model = model.NewMockModel("test-model")
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func awaitTerminal(t *testing.T, s *System, requestID string) *core.ReportJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Status(requestID)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func importCSV() []byte {
	var sb strings.Builder
	sb.WriteString("student_id,kind,score,max_score,timestamp\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "s1,score,%d,100,2025-03-%02dT09:00:00Z\n", 60+i*2, i+1)
	}
	return []byte(sb.String())
}

func TestEndToEndPipeline(t *testing.T) {
	s := startSystem(t)
	ctx := context.Background()

	out, err := s.Import(ctx, iface.ImportTask{Format: core.FormatCSV, Data: importCSV()})
	require.NoError(t, err)
	require.Equal(t, 12, out.Ingested)

	req := core.Request{
		ID:           core.NewID(),
		AnalysisType: core.AnalysisPerformanceTrend,
		ReportType:   core.ReportIndividual,
		Format:       core.FormatCSV,
	}
	_, err = s.Submit(req)
	require.NoError(t, err)

	done := awaitTerminal(t, s, req.ID)
	require.Equal(t, core.StateCompleted, done.State, "error: %s %s", done.ErrorKind, done.ErrorMsg)
	require.Len(t, done.Findings, 1)
	assert.Greater(t, done.Findings[0].Metrics["learning_velocity"], 0.0)
	require.NotNil(t, done.Result)
	assert.False(t, done.Result.Degraded, "the mock model answers in time")
	require.NotNil(t, done.Export)

	stored, err := s.Artifacts().Get(ctx, done.Export.Artifact, done.Export.Version)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", stored.ContentType)
	assert.Contains(t, string(stored.Data), "learning_velocity")
}

func TestInsufficientDataSurfacesToCaller(t *testing.T) {
	s := startSystem(t)

	req := testutil.AnalysisOnlyRequest(core.AnalysisComprehensive)
	_, err := s.Submit(req)
	require.NoError(t, err)

	done := awaitTerminal(t, s, req.ID)
	assert.Equal(t, core.StateFailed, done.State)
	assert.Equal(t, core.KindInsufficientData, done.ErrorKind)
}

func TestSystemLifecycle(t *testing.T) {
	s, err := New(func(o *Options) {
		o.Config = testConfig()
		o.Model = model.NewMockModel("test-model")
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.Len(t, s.Agents(), 3)

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
}

func TestConfiguredHeartbeatKeepsAgentsLive(t *testing.T) {
	cfg := testConfig()
	cfg.Registry.HeartbeatInterval = 50 * time.Millisecond
	cfg.Registry.MissThreshold = 3

	s, err := New(func(o *Options) {
		o.Config = cfg
		o.Model = model.NewMockModel("test-model")
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })

	// Several liveness cutoffs pass; agents beating at the configured
	// cadence must stay resolvable.
	time.Sleep(400 * time.Millisecond)
	for _, d := range s.Agents() {
		assert.NotEqual(t, registry.StatusUnavailable, d.Status, d.AgentID)
	}

	req := testutil.AnalysisOnlyRequest(core.AnalysisComprehensive)
	_, err = s.Submit(req)
	require.NoError(t, err)
	done := awaitTerminal(t, s, req.ID)
	assert.NotEqual(t, core.KindNoAgentAvailable, done.ErrorKind)
}

func TestBuildModelProviders(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", "mock"} {
		cfg := config.Default().LLM
		cfg.Provider = provider
		m, err := buildModel(cfg)
		require.NoError(t, err, provider)
		assert.Equal(t, provider, m.Info().Provider)
	}

	cfg := config.Default().LLM
	cfg.Provider = "oracle"
	_, err := buildModel(cfg)
	assert.Error(t, err)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Coordinator.MaxConcurrentJobs = 0
	_, err := New(func(o *Options) { o.Config = cfg })
	assert.Error(t, err)
}
