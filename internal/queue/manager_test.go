package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/model"
	"docflow/internal/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is an in-memory stand-in for the RabbitMQ client. Routing keys
// double as lane names, which matches how the manager publishes.
type fakeBroker struct {
	mu          sync.Mutex
	lanes       map[string][][]byte
	inflight    map[uint64]inflightMsg
	nextTag     uint64
	failPublish bool
}

type inflightMsg struct {
	lane string
	body []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		lanes:    make(map[string][][]byte),
		inflight: make(map[uint64]inflightMsg),
	}
}

func (b *fakeBroker) Publish(exchange, routingKey string, body []byte, headers amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failPublish {
		return errors.New("broker unavailable")
	}
	b.lanes[routingKey] = append(b.lanes[routingKey], body)
	return nil
}

func (b *fakeBroker) Get(queueName string) (*rabbitmq.Delivery, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.lanes[queueName]
	if len(msgs) == 0 {
		return nil, false, nil
	}
	body := msgs[0]
	b.lanes[queueName] = msgs[1:]

	b.nextTag++
	b.inflight[b.nextTag] = inflightMsg{lane: queueName, body: body}

	return &rabbitmq.Delivery{Body: body, Tag: b.nextTag}, true, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inflight, tag)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.inflight[tag]
	delete(b.inflight, tag)
	if ok && requeue {
		b.lanes[msg.lane] = append([][]byte{msg.body}, b.lanes[msg.lane]...)
	}
	return nil
}

func (b *fakeBroker) laneDepth(lane string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lanes[lane])
}

func testRabbitConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{
		DLXName:     "test_dlx",
		HighQueue:   "lane_high",
		NormalQueue: "lane_normal",
		LowQueue:    "lane_low",
		DLQQueue:    "lane_dlq",
	}
}

func newTestManager(broker Broker) Manager {
	return NewManager(NewStore(), broker, nil, testRabbitConfig(), 3)
}

func TestEnqueueTracksJobWhenBrokerDown(t *testing.T) {
	broker := newFakeBroker()
	broker.failPublish = true
	m := newTestManager(broker)

	jobID := m.Enqueue(context.Background(), "doc-1", "invoice.pdf", "documents/doc-1/invoice.pdf", 1024, model.PriorityHigh, nil)
	require.NotEmpty(t, jobID)

	job, ok := m.GetJobStatus(jobID)
	require.True(t, ok)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.Equal(t, model.PriorityHigh, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
}

func TestEnqueueWithNilBroker(t *testing.T) {
	m := newTestManager(nil)

	jobID := m.Enqueue(context.Background(), "doc-1", "invoice.pdf", "blob", 10, model.PriorityNormal, nil)

	job, ok := m.GetJobStatus(jobID)
	require.True(t, ok)
	assert.Equal(t, model.StatusQueued, job.Status)

	_, _, dequeued := m.Dequeue()
	assert.False(t, dequeued)
}

func TestEnqueueNormalizesUnknownPriority(t *testing.T) {
	m := newTestManager(newFakeBroker())

	jobID := m.Enqueue(context.Background(), "doc-1", "a.pdf", "blob", 10, model.JobPriority("URGENT"), nil)

	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, model.PriorityNormal, job.Priority)
}

func TestDequeueDrainsHighLaneFirst(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)

	lowID := m.Enqueue(context.Background(), "doc-low", "low.pdf", "blob-low", 10, model.PriorityLow, nil)
	normalID := m.Enqueue(context.Background(), "doc-normal", "normal.pdf", "blob-normal", 10, model.PriorityNormal, nil)
	highID := m.Enqueue(context.Background(), "doc-high", "high.pdf", "blob-high", 10, model.PriorityHigh, nil)

	var order []string
	for {
		job, tag, ok := m.Dequeue()
		if !ok {
			break
		}
		order = append(order, job.JobID)
		m.Ack(tag)
	}

	require.Equal(t, []string{highID, normalID, lowID}, order)
}

func TestDequeueRebuildsJobAfterRestart(t *testing.T) {
	broker := newFakeBroker()
	first := newTestManager(broker)

	jobID := first.Enqueue(context.Background(), "doc-1", "invoice.pdf", "blob", 2048, model.PriorityNormal, nil)

	// A fresh manager with an empty store simulates a process restart; the
	// message payload must be enough to reconstruct the job.
	second := newTestManager(broker)
	job, _, ok := second.Dequeue()
	require.True(t, ok)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "doc-1", job.DocumentID)
	assert.Equal(t, int64(2048), job.FileSize)

	restored, ok := second.GetJobStatus(jobID)
	require.True(t, ok)
	assert.Equal(t, jobID, restored.JobID)
}

func TestUpdateJobStatusTransitions(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)

	m.UpdateJobStatus(ctx, jobID, model.StatusProcessing, "", nil)
	job, _ := m.GetJobStatus(jobID)
	require.NotNil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	m.UpdateJobStatus(ctx, jobID, model.StatusCompleted, "", map[string]interface{}{"match_status": "GREEN"})
	job, _ = m.GetJobStatus(jobID)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, "GREEN", job.ResultMetadata["match_status"])
}

func TestUpdateJobStatusMergesMetadata(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)
	m.UpdateJobStatus(ctx, jobID, model.StatusProcessing, "", map[string]interface{}{"execution_id": "exec-1"})
	m.UpdateJobStatus(ctx, jobID, model.StatusProcessing, "", map[string]interface{}{"match_status": "RED"})

	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, "exec-1", job.ResultMetadata["execution_id"])
	assert.Equal(t, "RED", job.ResultMetadata["match_status"])
}

func TestUpdateJobStatusIgnoresTerminalJobs(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)
	m.UpdateJobStatus(ctx, jobID, model.StatusCompleted, "", nil)

	m.UpdateJobStatus(ctx, jobID, model.StatusFailed, "late failure", nil)
	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestMarkJobForRetryExhaustsBudget(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)

	for i := 1; i <= 3; i++ {
		require.True(t, m.MarkJobForRetry(jobID), "attempt %d should be within budget", i)
		job, _ := m.GetJobStatus(jobID)
		assert.Equal(t, i, job.RetryCount)
		assert.Equal(t, model.StatusRetrying, job.Status)
	}

	assert.False(t, m.MarkJobForRetry(jobID))
	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, 3, job.RetryCount)
}

func TestMarkJobForRetryUnknownJob(t *testing.T) {
	m := newTestManager(newFakeBroker())
	assert.False(t, m.MarkJobForRetry("missing"))
}

func TestMoveToDLQAndList(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)
	m.UpdateJobStatus(ctx, jobID, model.StatusProcessing, "", map[string]interface{}{"failed_stage": "EXTRACT"})
	m.MoveToDLQ(ctx, jobID, "Max retries exceeded: extraction failed")

	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, model.StatusDLQ, job.Status)
	assert.Equal(t, 1, broker.laneDepth("lane_dlq"))

	items := m.GetDLQItems(10, 0)
	require.Len(t, items, 1)
	assert.Equal(t, jobID, items[0].ID)
	assert.Equal(t, "EXTRACT", items[0].Stage)
	assert.Equal(t, model.DLQPendingReview, items[0].Status)
}

func TestGetDLQItemsNewestFirstWithPagination(t *testing.T) {
	m := newTestManager(newFakeBroker()).(*manager)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		jobID := m.Enqueue(ctx, "doc", "a.pdf", "blob", 10, model.PriorityNormal, nil)
		// Stagger creation times so ordering is deterministic.
		m.store.Update(jobID, func(j *model.Job) {
			j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		})
		m.MoveToDLQ(ctx, jobID, "boom")
		ids = append(ids, jobID)
	}

	items := m.GetDLQItems(2, 0)
	require.Len(t, items, 2)
	assert.Equal(t, ids[2], items[0].ID)
	assert.Equal(t, ids[1], items[1].ID)

	rest := m.GetDLQItems(2, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)

	assert.Empty(t, m.GetDLQItems(2, 5))
}

func TestResolveDLQItemRetry(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(broker)
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityHigh, nil)
	_, tag, ok := m.Dequeue()
	require.True(t, ok)
	m.Ack(tag)

	m.MarkJobForRetry(jobID)
	m.MoveToDLQ(ctx, jobID, "boom")

	require.True(t, m.ResolveDLQItem(ctx, jobID, ResolveRetry))

	job, _ := m.GetJobStatus(jobID)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.Zero(t, job.RetryCount)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, 1, broker.laneDepth("lane_high"))
}

func TestResolveDLQItemDelete(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)
	m.MoveToDLQ(ctx, jobID, "boom")

	require.True(t, m.ResolveDLQItem(ctx, jobID, ResolveDelete))
	_, ok := m.GetJobStatus(jobID)
	assert.False(t, ok)
}

func TestResolveDLQItemRejectsNonDLQJobs(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	jobID := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityNormal, nil)

	assert.False(t, m.ResolveDLQItem(ctx, jobID, ResolveRetry))
	assert.False(t, m.ResolveDLQItem(ctx, "missing", ResolveRetry))
	m.MoveToDLQ(ctx, jobID, "boom")
	assert.False(t, m.ResolveDLQItem(ctx, jobID, "archive"))
}

func TestStatsCountsByPriorityAndStatus(t *testing.T) {
	m := newTestManager(newFakeBroker())
	ctx := context.Background()

	high := m.Enqueue(ctx, "doc-1", "a.pdf", "blob", 10, model.PriorityHigh, nil)
	m.Enqueue(ctx, "doc-2", "b.pdf", "blob", 10, model.PriorityHigh, nil)
	low := m.Enqueue(ctx, "doc-3", "c.pdf", "blob", 10, model.PriorityLow, nil)

	m.UpdateJobStatus(ctx, high, model.StatusProcessing, "", nil)
	m.UpdateJobStatus(ctx, high, model.StatusCompleted, "", nil)
	m.MoveToDLQ(ctx, low, "boom")

	stats := m.Stats()

	highStats := stats[string(model.PriorityHigh)]
	assert.Equal(t, 2, highStats.TotalJobs)
	assert.Equal(t, 1, highStats.CompletedJobs)
	assert.Equal(t, 1, highStats.QueuedJobs)

	lowStats := stats[string(model.PriorityLow)]
	assert.Equal(t, 1, lowStats.DLQJobs)
}
