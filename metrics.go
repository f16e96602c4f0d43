package ios

import (
	"sync/atomic"
	"time"

	"github.com/hle-ios/kernel/internal/interfaces"
)

// LatencyBuckets defines the resource-request dispatch-latency histogram
// buckets in nanoseconds, covering dispatch-to-reply turnaround with
// logarithmic spacing from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks kernel-wide operational statistics: scheduler activity,
// message-queue traffic, and resource-manager dispatch turnaround.
type Metrics struct {
	// Scheduler counters
	ThreadsCreated atomic.Uint64 // Threads created since boot
	ThreadsExited  atomic.Uint64 // Threads that have run to completion
	Reschedules    atomic.Uint64 // Calls into the scheduler's pick-next
	ContextSwaps   atomic.Uint64 // Reschedules that changed the running thread

	// Message-queue counters
	MessagesSent     atomic.Uint64 // Total MQ_Send/MQ_Jam calls
	MessagesReceived atomic.Uint64 // Total MQ_Receive calls
	SendBlocked      atomic.Uint64 // Sends that had to wait for space
	ReceiveBlocked   atomic.Uint64 // Receives that had to wait for a message
	QueueFull        atomic.Uint64 // Non-blocking sends rejected, queue full

	// Resource-manager dispatch counters
	RequestsDispatched atomic.Uint64 // Requests handed to a resource manager
	RequestsReplied    atomic.Uint64 // Replies delivered back to a client
	RequestErrors      atomic.Uint64 // Replies carrying a negative result

	// Resource-request pool occupancy
	RequestPoolInUse atomic.Uint32 // Requests currently checked out
	RequestPoolPeak  atomic.Uint32 // High-water mark

	// Dispatch-latency tracking (dispatch -> reply)
	TotalLatencyNs atomic.Uint64 // Cumulative latency in nanoseconds
	LatencyOpCount atomic.Uint64 // Replies counted toward the average

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of replies with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // Boot timestamp (UnixNano)
	StopTime  atomic.Int64 // Shutdown timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance with its start time stamped.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordThreadCreated records a thread creation.
func (m *Metrics) RecordThreadCreated() {
	m.ThreadsCreated.Add(1)
}

// RecordThreadExited records a thread running to completion.
func (m *Metrics) RecordThreadExited() {
	m.ThreadsExited.Add(1)
}

// RecordReschedule records a call into the scheduler, noting whether the
// running thread actually changed as a result.
func (m *Metrics) RecordReschedule(swapped bool) {
	m.Reschedules.Add(1)
	if swapped {
		m.ContextSwaps.Add(1)
	}
}

// RecordSend records a message-queue send, noting whether the sender
// blocked and whether a non-blocking send was rejected for being full.
func (m *Metrics) RecordSend(blocked, full bool) {
	m.MessagesSent.Add(1)
	if blocked {
		m.SendBlocked.Add(1)
	}
	if full {
		m.QueueFull.Add(1)
	}
}

// RecordReceive records a message-queue receive, noting whether the
// receiver blocked waiting for a message.
func (m *Metrics) RecordReceive(blocked bool) {
	m.MessagesReceived.Add(1)
	if blocked {
		m.ReceiveBlocked.Add(1)
	}
}

// RecordDispatch records a resource-request dispatch to a resource manager.
func (m *Metrics) RecordDispatch() {
	m.RequestsDispatched.Add(1)
}

// RecordReply records a resource-request reply and its end-to-end
// dispatch latency.
func (m *Metrics) RecordReply(latencyNs uint64, success bool) {
	m.RequestsReplied.Add(1)
	if !success {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRequestPoolUsage updates the current and peak in-use request count.
func (m *Metrics) RecordRequestPoolUsage(inUse uint32) {
	m.RequestPoolInUse.Store(inUse)
	for {
		peak := m.RequestPoolPeak.Load()
		if inUse <= peak {
			break
		}
		if m.RequestPoolPeak.CompareAndSwap(peak, inUse) {
			break
		}
	}
}

// recordLatency records dispatch latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyOpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics for reporting.
type MetricsSnapshot struct {
	ThreadsCreated uint64
	ThreadsExited  uint64
	Reschedules    uint64
	ContextSwaps   uint64

	MessagesSent     uint64
	MessagesReceived uint64
	SendBlocked      uint64
	ReceiveBlocked   uint64
	QueueFull        uint64

	RequestsDispatched uint64
	RequestsReplied    uint64
	RequestErrors      uint64
	RequestPoolInUse   uint32
	RequestPoolPeak    uint32

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	LatencyHistogram [numLatencyBuckets]uint64

	ErrorRate float64 // Percentage of replies carrying an error
	UptimeNs  uint64
}

// Snapshot returns a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ThreadsCreated:     m.ThreadsCreated.Load(),
		ThreadsExited:      m.ThreadsExited.Load(),
		Reschedules:        m.Reschedules.Load(),
		ContextSwaps:       m.ContextSwaps.Load(),
		MessagesSent:       m.MessagesSent.Load(),
		MessagesReceived:   m.MessagesReceived.Load(),
		SendBlocked:        m.SendBlocked.Load(),
		ReceiveBlocked:     m.ReceiveBlocked.Load(),
		QueueFull:          m.QueueFull.Load(),
		RequestsDispatched: m.RequestsDispatched.Load(),
		RequestsReplied:    m.RequestsReplied.Load(),
		RequestErrors:      m.RequestErrors.Load(),
		RequestPoolInUse:   m.RequestPoolInUse.Load(),
		RequestPoolPeak:    m.RequestPoolPeak.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.LatencyOpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.RequestsReplied > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.RequestsReplied) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.LatencyOpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters; useful for test isolation.
func (m *Metrics) Reset() {
	m.ThreadsCreated.Store(0)
	m.ThreadsExited.Store(0)
	m.Reschedules.Store(0)
	m.ContextSwaps.Store(0)
	m.MessagesSent.Store(0)
	m.MessagesReceived.Store(0)
	m.SendBlocked.Store(0)
	m.ReceiveBlocked.Store(0)
	m.QueueFull.Store(0)
	m.RequestsDispatched.Store(0)
	m.RequestsReplied.Store(0)
	m.RequestErrors.Store(0)
	m.RequestPoolInUse.Store(0)
	m.RequestPoolPeak.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyOpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver adapts *Metrics to interfaces.Observer so subsystems can
// record through the narrow interface without importing this package.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveThreadTransition(threadID uint32, from, to string) {
	switch to {
	case "created":
		o.metrics.RecordThreadCreated()
	case "exited":
		o.metrics.RecordThreadExited()
	}
}

func (o *MetricsObserver) ObserveMessageQueueOp(op string, blocked bool) {
	switch op {
	case "send":
		o.metrics.RecordSend(blocked, false)
	case "send_full":
		o.metrics.RecordSend(blocked, true)
	case "receive":
		o.metrics.RecordReceive(blocked)
	}
}

func (o *MetricsObserver) ObserveResourceDispatch(command string, success bool, latencyNs uint64) {
	o.metrics.RecordDispatch()
	o.metrics.RecordReply(latencyNs, success)
}

func (o *MetricsObserver) ObserveSchedulerSwap(fromCore, toCore int) {
	o.metrics.RecordReschedule(fromCore != toCore)
}

// NoOpObserver discards all observations. StartKernel does not fall back
// to it: a nil BootOptions.Observer gets a MetricsObserver instead.
type NoOpObserver struct{}

func (NoOpObserver) ObserveThreadTransition(threadID uint32, from, to string)               {}
func (NoOpObserver) ObserveMessageQueueOp(op string, blocked bool)                          {}
func (NoOpObserver) ObserveResourceDispatch(command string, success bool, latencyNs uint64) {}
func (NoOpObserver) ObserveSchedulerSwap(fromCore, toCore int)                              {}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)