package tracker

import (
	"sort"
	"sync"
	"time"

	"docflow/internal/model"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"
)

// Tracker records per-stage timing for pipeline executions and aggregates
// stage history for reporting and bottleneck detection. Safe for concurrent
// workers and readers; a single mutex guards the shared maps, which is
// plenty given how rarely stages complete relative to their durations.
type Tracker struct {
	mu           sync.Mutex
	historyLimit int
	executions   map[string]*model.PipelineExecution
	// executionOrder keeps insertion order so old executions can be
	// trimmed once the limit is hit.
	executionOrder []string
	stageHistory   map[string][]model.StageMetrics
}

func New(historyLimit int) *Tracker {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Tracker{
		historyLimit: historyLimit,
		executions:   make(map[string]*model.PipelineExecution),
		stageHistory: make(map[string][]model.StageMetrics),
	}
}

// StartExecution begins a new pipeline trace and returns its ID.
func (t *Tracker) StartExecution(documentID, filename string, fileSize int64) string {
	execution := &model.PipelineExecution{
		ExecutionID:   uuid.NewString(),
		DocumentID:    documentID,
		Filename:      filename,
		FileSize:      fileSize,
		StartedAt:     time.Now().UTC(),
		OverallStatus: model.StagePending,
	}

	t.mu.Lock()
	t.executions[execution.ExecutionID] = execution
	t.executionOrder = append(t.executionOrder, execution.ExecutionID)
	if len(t.executionOrder) > t.historyLimit {
		oldest := t.executionOrder[0]
		t.executionOrder = t.executionOrder[1:]
		delete(t.executions, oldest)
	}
	t.mu.Unlock()

	log.Debug().
		Str("executionId", execution.ExecutionID).
		Str("documentId", documentID).
		Msg("Pipeline execution started")

	return execution.ExecutionID
}

// StartStage opens a stage handle for the execution. Returns nil when the
// execution is unknown.
func (t *Tracker) StartStage(executionID, stageName string, metadata map[string]interface{}) *model.StageMetrics {
	t.mu.Lock()
	_, ok := t.executions[executionID]
	t.mu.Unlock()

	if !ok {
		log.Warn().Str("executionId", executionID).Msg("Stage start for unknown execution")
		return nil
	}

	return &model.StageMetrics{
		StageName: stageName,
		StartTime: time.Now().UTC(),
		Status:    model.StageRunning,
		Metadata:  metadata,
	}
}

// CompleteStage stamps the stage, appends it to its execution and to the
// bounded per-stage history.
func (t *Tracker) CompleteStage(executionID string, stage *model.StageMetrics, success bool, errorMessage string) {
	if stage == nil {
		return
	}

	stage.MarkCompleted(success)
	if errorMessage != "" {
		stage.ErrorMessage = errorMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	execution, ok := t.executions[executionID]
	if !ok {
		return
	}

	execution.Stages = append(execution.Stages, *stage)

	history := append(t.stageHistory[stage.StageName], *stage)
	if len(history) > t.historyLimit {
		history = history[len(history)-t.historyLimit:]
	}
	t.stageHistory[stage.StageName] = history

	log.Debug().
		Str("executionId", executionID).
		Str("stage", stage.StageName).
		Float64("durationMs", stage.DurationMS).
		Bool("success", success).
		Msg("Stage completed")
}

// CompleteExecution finalizes the trace and returns a copy of it.
func (t *Tracker) CompleteExecution(executionID string, success bool, errorMessage string) *model.PipelineExecution {
	t.mu.Lock()
	defer t.mu.Unlock()

	execution, ok := t.executions[executionID]
	if !ok {
		return nil
	}

	execution.MarkCompleted(success)
	if errorMessage != "" {
		execution.ErrorMessage = errorMessage
	}

	log.Info().
		Str("executionId", executionID).
		Float64("totalDurationMs", execution.TotalDurationMS).
		Bool("success", success).
		Msg("Pipeline execution completed")

	cp := *execution
	cp.Stages = append([]model.StageMetrics(nil), execution.Stages...)
	return &cp
}

// GetExecution returns a copy of the execution, or nil if unknown.
func (t *Tracker) GetExecution(executionID string) *model.PipelineExecution {
	t.mu.Lock()
	defer t.mu.Unlock()

	execution, ok := t.executions[executionID]
	if !ok {
		return nil
	}
	cp := *execution
	cp.Stages = append([]model.StageMetrics(nil), execution.Stages...)
	return &cp
}

// GetExecutionHistory returns recent executions, newest first, optionally
// filtered by document ID.
func (t *Tracker) GetExecutionHistory(documentID string, limit int) []*model.PipelineExecution {
	t.mu.Lock()
	out := make([]*model.PipelineExecution, 0, len(t.executionOrder))
	for i := len(t.executionOrder) - 1; i >= 0; i-- {
		execution, ok := t.executions[t.executionOrder[i]]
		if !ok {
			continue
		}
		if documentID != "" && execution.DocumentID != documentID {
			continue
		}
		cp := *execution
		cp.Stages = append([]model.StageMetrics(nil), execution.Stages...)
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	t.mu.Unlock()

	return out
}

// GetStagePerformanceStats aggregates the bounded history of one stage.
func (t *Tracker) GetStagePerformanceStats(stageName string) model.PerformanceStats {
	t.mu.Lock()
	history := append([]model.StageMetrics(nil), t.stageHistory[stageName]...)
	t.mu.Unlock()

	result := model.PerformanceStats{StageName: stageName}
	if len(history) == 0 {
		return result
	}

	var durations []float64
	for _, s := range history {
		result.TotalItemsProcessed += s.ItemsProcessed
		if s.Status == model.StageSuccess {
			result.SuccessfulExecutions++
			durations = append(durations, s.DurationMS)
		} else {
			result.FailedExecutions++
		}
	}
	result.TotalExecutions = len(history)
	result.SuccessRate = float64(result.SuccessfulExecutions) / float64(len(history)) * 100

	if len(durations) == 0 {
		return result
	}

	result.MinDurationMS, _ = stats.Min(durations)
	result.MaxDurationMS, _ = stats.Max(durations)
	result.AvgDurationMS, _ = stats.Mean(durations)
	result.MedianDurationMS, _ = stats.Median(durations)
	result.P95DurationMS, _ = stats.Percentile(durations, 95)
	result.P99DurationMS, _ = stats.Percentile(durations, 99)
	if len(durations) > 1 {
		result.StdDevMS, _ = stats.StandardDeviationSample(durations)
	}

	return result
}

// GetPipelineReport aggregates executions started within the look-back
// window.
func (t *Tracker) GetPipelineReport(hours int) model.PipelineReport {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	t.mu.Lock()
	var recent []*model.PipelineExecution
	stageNames := make([]string, 0, len(t.stageHistory))
	for name := range t.stageHistory {
		stageNames = append(stageNames, name)
	}
	for _, execution := range t.executions {
		if !execution.StartedAt.Before(cutoff) {
			cp := *execution
			recent = append(recent, &cp)
		}
	}
	t.mu.Unlock()

	report := model.PipelineReport{PeriodHours: hours}
	if len(recent) == 0 {
		report.StageBreakdown = []model.StageBreakdown{}
		return report
	}

	var durations []float64
	for _, e := range recent {
		durations = append(durations, e.TotalDurationMS)
		switch e.OverallStatus {
		case model.StageSuccess:
			report.SuccessfulExecutions++
		case model.StageFailed:
			report.FailedExecutions++
		}
	}

	report.TotalExecutions = len(recent)
	report.SuccessRate = float64(report.SuccessfulExecutions) / float64(len(recent)) * 100
	report.AvgTotalDurationMS, _ = stats.Mean(durations)
	report.MinTotalDurationMS, _ = stats.Min(durations)
	report.MaxTotalDurationMS, _ = stats.Max(durations)
	report.P95TotalDurationMS, _ = stats.Percentile(durations, 95)
	report.P99TotalDurationMS, _ = stats.Percentile(durations, 99)
	report.ThroughputPerHour = float64(len(recent)) / float64(hours)

	report.StageBreakdown = []model.StageBreakdown{}
	for _, name := range orderStages(stageNames) {
		st := t.GetStagePerformanceStats(name)
		if st.TotalExecutions == 0 {
			continue
		}
		report.StageBreakdown = append(report.StageBreakdown, model.StageBreakdown{
			Stage:         name,
			TotalRuns:     st.TotalExecutions,
			SuccessRate:   st.SuccessRate,
			AvgDurationMS: st.AvgDurationMS,
			P95DurationMS: st.P95DurationMS,
			P99DurationMS: st.P99DurationMS,
		})
	}

	return report
}

// DetectBottlenecks returns stages whose average share of total execution
// time exceeds the threshold percentile (0..1), sorted descending by share.
func (t *Tracker) DetectBottlenecks(thresholdPercentile float64) []model.Bottleneck {
	t.mu.Lock()
	stageNames := make([]string, 0, len(t.stageHistory))
	for name := range t.stageHistory {
		stageNames = append(stageNames, name)
	}
	executions := make([]*model.PipelineExecution, 0, len(t.executions))
	for _, e := range t.executions {
		cp := *e
		cp.Stages = append([]model.StageMetrics(nil), e.Stages...)
		executions = append(executions, &cp)
	}
	t.mu.Unlock()

	var bottlenecks []model.Bottleneck
	for _, name := range stageNames {
		var shares []float64
		for _, e := range executions {
			for _, s := range e.Stages {
				if s.StageName == name {
					shares = append(shares, e.StagePercentage(name))
					break
				}
			}
		}
		if len(shares) == 0 {
			continue
		}

		avgShare, _ := stats.Mean(shares)
		if avgShare <= thresholdPercentile*100 {
			continue
		}

		st := t.GetStagePerformanceStats(name)
		bottlenecks = append(bottlenecks, model.Bottleneck{
			Stage:           name,
			AvgShareOfTotal: avgShare,
			AvgDurationMS:   st.AvgDurationMS,
			P95DurationMS:   st.P95DurationMS,
		})
	}

	sort.Slice(bottlenecks, func(i, j int) bool {
		return bottlenecks[i].AvgShareOfTotal > bottlenecks[j].AvgShareOfTotal
	})

	return bottlenecks
}

// orderStages lists the fixed pipeline stages first, then any custom stage
// names that showed up in the history.
func orderStages(names []string) []string {
	ordered := []string{model.StageDownload, model.StageValidate, model.StageExtract, model.StageMatch, model.StagePersist}
	seen := make(map[string]bool, len(ordered))
	for _, n := range ordered {
		seen[n] = true
	}
	out := append([]string(nil), ordered...)
	for _, n := range names {
		if !seen[n] {
			out = append(out, n)
		}
	}
	return out
}
