package kernel

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/config"
	"switchboard/pkg/eventlog"
	"switchboard/pkg/proto"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Orchestrator.RetryDelay = time.Millisecond
	cfg.Agent.TimeoutMs = 2000
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.EventLog.Enabled = true
	cfg.EventLog.Dir = filepath.Join(dir, "logs")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewKernelDisabledServices(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false

	k, err := New(cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, k.Metrics)
	assert.Nil(t, k.Journal)
	assert.Nil(t, k.EventLog)
	require.NotNil(t, k.Tracer)

	require.NoError(t, k.Stop(context.Background()))
}

func TestKernelRunsMessagesEndToEnd(t *testing.T) {
	ctx := context.Background()
	var reports bytes.Buffer
	k, err := New(testConfig(t), Options{ReportOutput: &reports})
	require.NoError(t, err)
	require.NoError(t, k.Start(ctx))
	assert.Error(t, k.Start(ctx))

	msgs := []*proto.Message{
		proto.NewMessage(proto.MsgTypeVersionCheck, "", proto.NewVersionCheckPayload(&proto.VersionCheckPayload{
			Package: "go", Installed: "1.24.1", Constraint: "~1.24.0",
		})).WithPriority(7),
		proto.NewMessage(proto.MsgTypeLintReport, "", proto.NewLintReportPayload(&proto.LintReportPayload{
			Findings: []proto.LintFinding{{File: "main.go", Line: 3, Severity: "warning", Message: "shadowed err"}},
		})),
		proto.NewMessage(proto.MsgTypeBuildDeploy, "", proto.NewBuildDeployPayload(&proto.BuildDeployPayload{
			Project: "api", Steps: []string{"build", "deploy"}, FailSteps: []string{"deploy"},
		})),
	}
	for _, msg := range msgs {
		require.NoError(t, k.Submit(ctx, msg))
	}

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, k.Drain(drainCtx))

	assert.Contains(t, reports.String(), "main.go:3:0: warning shadowed err")

	counts, err := k.Journal.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"delivered": 2, "dropped": 1}, counts)

	var exposition bytes.Buffer
	require.NoError(t, k.Metrics.WriteText(&exposition))
	assert.Contains(t, exposition.String(), "switchboard_deliveries_total")

	logDir := k.Config.EventLog.Dir
	require.NoError(t, k.Stop(ctx))
	require.NoError(t, k.Stop(ctx))

	files, err := eventlog.ListLogFiles(logDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	entries, err := eventlog.ReadEntries(files[0])
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
