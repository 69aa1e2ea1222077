package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	structuringStartedTotal   atomic.Uint64
	structuringCompletedTotal atomic.Uint64
	structuringFailedTotal    atomic.Uint64

	comparisonStartedTotal   atomic.Uint64
	comparisonCompletedTotal atomic.Uint64
	comparisonFailedTotal    atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	llmCallDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
	llmTokensTotal  atomic.Uint64
)

// IncStructuringStarted increments the structuring started counter.
func IncStructuringStarted() {
	structuringStartedTotal.Add(1)
}

// IncStructuringCompleted increments the structuring completed counter.
func IncStructuringCompleted() {
	structuringCompletedTotal.Add(1)
}

// IncStructuringFailed increments the structuring failed counter.
func IncStructuringFailed() {
	structuringFailedTotal.Add(1)
}

// IncComparisonStarted increments the comparison started counter.
func IncComparisonStarted() {
	comparisonStartedTotal.Add(1)
}

// IncComparisonCompleted increments the comparison completed counter.
func IncComparisonCompleted() {
	comparisonCompletedTotal.Add(1)
}

// IncComparisonFailed increments the comparison failed counter.
func IncComparisonFailed() {
	comparisonFailedTotal.Add(1)
}

// IncJobsReceived increments the queue jobs received counter.
func IncJobsReceived() {
	jobsReceivedTotal.Add(1)
}

// IncJobsDeletedUnrecoverable counts payloads discarded without processing.
func IncJobsDeletedUnrecoverable() {
	jobsDeletedUnrecoverableTotal.Add(1)
}

// ObserveLLMCallDurationMs records one model call duration in milliseconds.
func ObserveLLMCallDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	llmCallDuration.Observe(value)
}

// AddLLMTokens accumulates token usage reported by the provider.
func AddLLMTokens(n int) {
	if n > 0 {
		llmTokensTotal.Add(uint64(n))
	}
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "structuring_started_total", "Total structuring jobs started", structuringStartedTotal.Load())
	writeCounter(&buf, "structuring_completed_total", "Total structuring jobs completed", structuringCompletedTotal.Load())
	writeCounter(&buf, "structuring_failed_total", "Total structuring jobs failed", structuringFailedTotal.Load())
	writeCounter(&buf, "comparison_started_total", "Total comparisons started", comparisonStartedTotal.Load())
	writeCounter(&buf, "comparison_completed_total", "Total comparisons completed", comparisonCompletedTotal.Load())
	writeCounter(&buf, "comparison_failed_total", "Total comparisons failed", comparisonFailedTotal.Load())
	writeCounter(&buf, "queue_jobs_received_total", "Total queue payloads received", jobsReceivedTotal.Load())
	writeCounter(&buf, "queue_jobs_discarded_total", "Total queue payloads discarded as unrecoverable", jobsDeletedUnrecoverableTotal.Load())
	writeCounter(&buf, "llm_tokens_total", "Total LLM tokens reported by the provider", llmTokensTotal.Load())
	writeHistogram(&buf, "llm_call_duration_ms", "LLM call duration in milliseconds", llmCallDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
