package ios

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsDispatchAndReply(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.RequestsDispatched)

	m.RecordDispatch()
	m.RecordReply(1_000_000, true) // 1ms, success
	m.RecordDispatch()
	m.RecordReply(500_000, false) // 0.5ms, error

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsDispatched)
	assert.Equal(t, uint64(2), snap.RequestsReplied)
	assert.Equal(t, uint64(1), snap.RequestErrors)
	assert.InDelta(t, 50.0, snap.ErrorRate, 0.1)
}

func TestMetricsSchedulerCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordThreadCreated()
	m.RecordThreadCreated()
	m.RecordThreadExited()
	m.RecordReschedule(false)
	m.RecordReschedule(true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.ThreadsCreated)
	assert.Equal(t, uint64(1), snap.ThreadsExited)
	assert.Equal(t, uint64(2), snap.Reschedules)
	assert.Equal(t, uint64(1), snap.ContextSwaps)
}

func TestMetricsMessageQueueCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(true, false)
	m.RecordSend(false, true)
	m.RecordReceive(true)
	m.RecordReceive(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.MessagesSent)
	assert.Equal(t, uint64(1), snap.SendBlocked)
	assert.Equal(t, uint64(1), snap.QueueFull)
	assert.Equal(t, uint64(2), snap.MessagesReceived)
	assert.Equal(t, uint64(1), snap.ReceiveBlocked)
}

func TestMetricsRequestPoolUsage(t *testing.T) {
	m := NewMetrics()

	m.RecordRequestPoolUsage(10)
	m.RecordRequestPoolUsage(25)
	m.RecordRequestPoolUsage(15)

	snap := m.Snapshot()
	assert.Equal(t, uint32(15), snap.RequestPoolInUse)
	assert.Equal(t, uint32(25), snap.RequestPoolPeak)
}

func TestMetricsLatencyAverage(t *testing.T) {
	m := NewMetrics()

	m.RecordReply(1_000_000, true) // 1ms
	m.RecordReply(2_000_000, true) // 2ms

	snap := m.Snapshot()
	assert.Equal(t, uint64(1_500_000), snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.InDelta(t, float64(snap.UptimeNs), float64(snap2.UptimeNs), float64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch()
	m.RecordReply(1_000_000, true)
	m.RecordRequestPoolUsage(5)

	snap := m.Snapshot()
	assert.NotZero(t, snap.RequestsDispatched)

	m.Reset()

	snap = m.Snapshot()
	assert.Zero(t, snap.RequestsDispatched)
	assert.Zero(t, snap.RequestPoolInUse)
	assert.Zero(t, snap.RequestPoolPeak)
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var observer NoOpObserver
	assert.NotPanics(t, func() {
		observer.ObserveThreadTransition(1, "ready", "running")
		observer.ObserveMessageQueueOp("send", false)
		observer.ObserveResourceDispatch("READ", true, 1000)
		observer.ObserveSchedulerSwap(0, 1)
	})
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	observer := NewMetricsObserver(m)

	observer.ObserveThreadTransition(1, "", "created")
	observer.ObserveThreadTransition(1, "running", "exited")
	observer.ObserveMessageQueueOp("send", true)
	observer.ObserveResourceDispatch("READ", true, 1_000_000)
	observer.ObserveSchedulerSwap(0, 1)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ThreadsCreated)
	assert.Equal(t, uint64(1), snap.ThreadsExited)
	assert.Equal(t, uint64(1), snap.MessagesSent)
	assert.Equal(t, uint64(1), snap.SendBlocked)
	assert.Equal(t, uint64(1), snap.RequestsDispatched)
	assert.Equal(t, uint64(1), snap.RequestsReplied)
	assert.Equal(t, uint64(1), snap.ContextSwaps)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordReply(500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordReply(5_000_000, true) // 5ms
	}
	m.RecordReply(50_000_000, true) // 50ms

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.RequestsReplied)
	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	assert.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	var totalInBuckets uint64
	for _, count := range snap.LatencyHistogram {
		totalInBuckets += count
	}
	assert.NotZero(t, totalInBuckets)
}
