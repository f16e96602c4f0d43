package ios

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/resource"
)

func TestStartKernelDefaultsAndStop(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.True(t, k.IsRunning())
	assert.NotNil(t, k.Scheduler)
	assert.NotNil(t, k.Allocator)
	assert.NotNil(t, k.Resources)
	assert.NotNil(t, k.Timers)
	assert.NotNil(t, k.Interrupts)

	k.Stop()
	assert.False(t, k.IsRunning())
}

func TestStartKernelNilContextAndOptions(t *testing.T) {
	k, err := StartKernel(nil, DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()
	assert.True(t, k.IsRunning())
}

func TestStartKernelWiresCollaborators(t *testing.T) {
	mem := NewMockMemoryTranslator(4096)
	ipcDrv := NewMockIPCDriver()
	logger := NewMockLogger()
	obs := NewMockObserver()

	k, err := StartKernel(context.Background(), DefaultKernelParams(), &BootOptions{
		Memory:   mem,
		IPC:      ipcDrv,
		Logger:   logger,
		Observer: obs,
	})
	require.NoError(t, err)
	defer k.Stop()

	assert.Same(t, mem, k.Memory())
	assert.NotEmpty(t, logger.Entries())
}

func TestKernelMetricsDefaultObserver(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	snap := k.MetricsSnapshot()
	assert.Zero(t, snap.RequestsDispatched)
}

func TestKernelQueueSemaphoreTimerLifecycle(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	q := k.CreateQueue(1, 1, 4)
	require.NotNil(t, q)

	s := k.CreateSemaphore(2, 1, 1, 1)
	require.NotNil(t, s)

	timer := k.CreateTimer(3, 1, 0, 0, q, 99)
	require.NotNil(t, timer)
	k.RestartTimer(timer, time.Millisecond.Nanoseconds(), 0)
	k.StopTimer(timer)

	woken := k.DestroyQueue(q)
	assert.GreaterOrEqual(t, woken, 0)
}

func TestKernelResourceManagerRoundTrip(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	mgrQueue := k.CreateQueue(10, 1, 4)
	replyQueue := k.CreateQueue(11, 5, 4)

	m, err := k.RegisterResourceManager(1, "/dev/kernel-api-test", mgrQueue)
	require.NoError(t, err)
	require.NotNil(t, m)

	done := make(chan struct{})
	serveThread, err := k.CreateThread(nil, 20, 1, 64, func(th *kthread.Thread) {
		msg, err := mgrQueue.Receive(th, true)
		if err != nil {
			close(done)
			return
		}
		req, err := k.Resources.RequestByIndex(int(msg))
		if err != nil {
			close(done)
			return
		}
		_ = k.ResourceReply(th, req, "", 0xBEEF)
		close(done)
	}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, serveThread)

	client := kthread.New(30, 5, 32, nil, nil)
	req, err := k.DispatchResourceRequest(client, resource.DispatchArgs{
		Command:    resource.CmdOpen,
		ProcID:     5,
		Path:       "/dev/kernel-api-test",
		ReplyQueue: replyQueue,
		ReplyMsg:   1,
	})
	require.NoError(t, err)
	require.NotNil(t, req)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not reply in time")
	}

	reply, err := replyQueue.Receive(client, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reply)
}

func TestKernelHandleEventAndClearAndEnable(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	q := k.CreateQueue(40, 1, 4)
	require.NoError(t, k.HandleEvent(0, 1, q, 7))
	require.NoError(t, k.ClearAndEnable(0))
}

func TestKernelScratchAllocatorAndCapabilityTable(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	sa := k.NewScratchAllocator(1024)
	assert.NotNil(t, sa)

	capTable := k.NewCapabilityTable()
	assert.NotNil(t, capTable)
}

func TestKernelProcessLooksUpBootState(t *testing.T) {
	k, err := StartKernel(context.Background(), DefaultKernelParams(), nil)
	require.NoError(t, err)
	defer k.Stop()

	assert.Nil(t, k.Process(1))
}
