package tracker

import (
	"testing"
	"time"

	"docflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStage(t *testing.T, trk *Tracker, executionID, stageName string, d time.Duration, success bool) {
	t.Helper()

	stage := trk.StartStage(executionID, stageName, nil)
	require.NotNil(t, stage)
	time.Sleep(d)
	trk.CompleteStage(executionID, stage, success, "")
}

func TestExecutionLifecycle(t *testing.T) {
	trk := New(100)

	executionID := trk.StartExecution("doc-1", "invoice.pdf", 2048)
	require.NotEmpty(t, executionID)

	runStage(t, trk, executionID, model.StageDownload, 2*time.Millisecond, true)
	runStage(t, trk, executionID, model.StageExtract, 2*time.Millisecond, true)

	execution := trk.CompleteExecution(executionID, true, "")
	require.NotNil(t, execution)

	assert.Equal(t, model.StageSuccess, execution.OverallStatus)
	assert.Len(t, execution.Stages, 2)
	assert.GreaterOrEqual(t, execution.TotalDurationMS, float64(0))
	assert.Greater(t, execution.ThroughputMBps, float64(0))
	require.NotNil(t, execution.CompletedAt)

	for _, stage := range execution.Stages {
		assert.Equal(t, model.StageSuccess, stage.Status)
		assert.GreaterOrEqual(t, stage.DurationMS, float64(0))
	}
}

func TestFailedExecution(t *testing.T) {
	trk := New(100)

	executionID := trk.StartExecution("doc-1", "invoice.pdf", 100)
	stage := trk.StartStage(executionID, model.StageDownload, nil)
	trk.CompleteStage(executionID, stage, false, "blob missing")

	execution := trk.CompleteExecution(executionID, false, "download failed")
	require.NotNil(t, execution)

	assert.Equal(t, model.StageFailed, execution.OverallStatus)
	assert.Equal(t, "download failed", execution.ErrorMessage)
	require.Len(t, execution.Stages, 1)
	assert.Equal(t, "blob missing", execution.Stages[0].ErrorMessage)
}

func TestStartStageUnknownExecution(t *testing.T) {
	trk := New(100)

	assert.Nil(t, trk.StartStage("missing", model.StageDownload, nil))

	// Completing a nil stage handle must be a no-op, not a panic.
	trk.CompleteStage("missing", nil, true, "")
	assert.Nil(t, trk.CompleteExecution("missing", true, ""))
	assert.Nil(t, trk.GetExecution("missing"))
}

func TestHistoryLimitTrimsOldestExecutions(t *testing.T) {
	trk := New(2)

	first := trk.StartExecution("doc-1", "a.pdf", 10)
	second := trk.StartExecution("doc-2", "b.pdf", 10)
	third := trk.StartExecution("doc-3", "c.pdf", 10)

	assert.Nil(t, trk.GetExecution(first))
	assert.NotNil(t, trk.GetExecution(second))
	assert.NotNil(t, trk.GetExecution(third))
}

func TestGetExecutionHistoryFiltersByDocument(t *testing.T) {
	trk := New(100)

	trk.StartExecution("doc-1", "a.pdf", 10)
	trk.StartExecution("doc-2", "b.pdf", 10)
	lastID := trk.StartExecution("doc-1", "a-v2.pdf", 10)

	history := trk.GetExecutionHistory("doc-1", 0)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, lastID, history[0].ExecutionID)

	limited := trk.GetExecutionHistory("", 2)
	assert.Len(t, limited, 2)
}

func TestStagePerformanceStats(t *testing.T) {
	trk := New(100)

	executionID := trk.StartExecution("doc-1", "a.pdf", 10)
	for i := 0; i < 3; i++ {
		runStage(t, trk, executionID, model.StageExtract, time.Millisecond, true)
	}
	stage := trk.StartStage(executionID, model.StageExtract, nil)
	trk.CompleteStage(executionID, stage, false, "provider timeout")

	stats := trk.GetStagePerformanceStats(model.StageExtract)

	assert.Equal(t, model.StageExtract, stats.StageName)
	assert.Equal(t, 4, stats.TotalExecutions)
	assert.Equal(t, 3, stats.SuccessfulExecutions)
	assert.Equal(t, 1, stats.FailedExecutions)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.01)
	assert.GreaterOrEqual(t, stats.MaxDurationMS, stats.MinDurationMS)
	assert.GreaterOrEqual(t, stats.P95DurationMS, stats.MedianDurationMS)
}

func TestStagePerformanceStatsEmpty(t *testing.T) {
	trk := New(100)

	stats := trk.GetStagePerformanceStats(model.StagePersist)
	assert.Zero(t, stats.TotalExecutions)
	assert.Zero(t, stats.AvgDurationMS)
}

func TestPipelineReport(t *testing.T) {
	trk := New(100)

	for i := 0; i < 2; i++ {
		executionID := trk.StartExecution("doc", "a.pdf", 10)
		runStage(t, trk, executionID, model.StageDownload, time.Millisecond, true)
		trk.CompleteExecution(executionID, true, "")
	}
	executionID := trk.StartExecution("doc", "b.pdf", 10)
	runStage(t, trk, executionID, model.StageDownload, time.Millisecond, false)
	trk.CompleteExecution(executionID, false, "boom")

	report := trk.GetPipelineReport(24)

	assert.Equal(t, 3, report.TotalExecutions)
	assert.Equal(t, 2, report.SuccessfulExecutions)
	assert.Equal(t, 1, report.FailedExecutions)
	assert.InDelta(t, 66.66, report.SuccessRate, 0.1)
	assert.Greater(t, report.ThroughputPerHour, float64(0))
	require.NotEmpty(t, report.StageBreakdown)
	assert.Equal(t, model.StageDownload, report.StageBreakdown[0].Stage)
}

func TestPipelineReportEmptyWindow(t *testing.T) {
	trk := New(100)

	report := trk.GetPipelineReport(1)
	assert.Zero(t, report.TotalExecutions)
	assert.Empty(t, report.StageBreakdown)
}

func TestDetectBottlenecks(t *testing.T) {
	trk := New(100)

	// One stage dominating the execution should be the only bottleneck.
	executionID := trk.StartExecution("doc-1", "a.pdf", 10)
	runStage(t, trk, executionID, model.StageExtract, 60*time.Millisecond, true)
	runStage(t, trk, executionID, model.StagePersist, time.Millisecond, true)
	trk.CompleteExecution(executionID, true, "")

	bottlenecks := trk.DetectBottlenecks(0.8)

	require.Len(t, bottlenecks, 1)
	assert.Equal(t, model.StageExtract, bottlenecks[0].Stage)
	assert.Greater(t, bottlenecks[0].AvgShareOfTotal, 80.0)
	assert.Greater(t, bottlenecks[0].AvgDurationMS, float64(0))
}

func TestDetectBottlenecksNoneAboveThreshold(t *testing.T) {
	trk := New(100)

	executionID := trk.StartExecution("doc-1", "a.pdf", 10)
	runStage(t, trk, executionID, model.StageDownload, 5*time.Millisecond, true)
	runStage(t, trk, executionID, model.StageExtract, 5*time.Millisecond, true)
	trk.CompleteExecution(executionID, true, "")

	assert.Empty(t, trk.DetectBottlenecks(0.95))
}
