//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

func TestMonitor_AbortAllStuckLeaf(t *testing.T) {
	f := newFixture(t, &recordingRuntime{correlate: true})
	f.seedSingleLeaf()
	ctx := context.Background()

	i := f.register(t, "", interrupt.TypeAbortAll)
	require.False(t, f.check(t, "leaf").Proceed)
	require.Equal(t, execution.StatusDiscontinuing, f.nodeStatus(t, "leaf"))

	// Not stale yet.
	fresh := f.newMonitor(t)
	require.NoError(t, fresh.RunOnce(ctx))
	require.Equal(t, execution.StatusDiscontinuing, f.nodeStatus(t, "leaf"))

	m := f.newMonitor(t, interrupt.WithMonitorClock(later()))
	require.NoError(t, m.RunOnce(ctx))

	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "leaf"))
	require.Eventually(t, func() bool {
		p, err := f.plans.Get(ctx, planID)
		return err == nil && p.Status == execution.StatusAborted
	}, 2*time.Second, 5*time.Millisecond)
	f.eventuallyState(t, i.ID, interrupt.StateProcessedSuccessfully)
}

func TestMonitor_ExpireAllNeverAcknowledged(t *testing.T) {
	f := newFixture(t, &recordingRuntime{correlate: true},
		interrupt.WithCompletionTimeout(20*time.Millisecond))
	f.seedTree()
	ctx := context.Background()

	i := f.register(t, "", interrupt.TypeExpireAll)
	// Only the per node waits remain once the completion wait gave up.
	require.Eventually(t, func() bool { return f.waiter.Pending() == 3 }, 2*time.Second, 5*time.Millisecond)

	m := f.newMonitor(t, interrupt.WithMonitorClock(later()))
	require.NoError(t, m.RunOnce(ctx))
	for _, id := range []string{"step-1", "step-2", "step-3"} {
		assert.Equal(t, execution.StatusExpired, f.nodeStatus(t, id), id)
	}
	assert.Equal(t, interrupt.StateProcessing, f.get(t, i.ID).State)

	require.NoError(t, m.RunOnce(ctx))
	got := f.get(t, i.ID)
	assert.Equal(t, interrupt.StateProcessedSuccessfully, got.State)
	assert.True(t, got.FromMonitor)
	assert.Equal(t, execution.StatusExpired, f.nodeStatus(t, "stage"))
	assert.Equal(t, execution.StatusExpired, f.nodeStatus(t, "root"))
	assert.Equal(t, execution.StatusExpired, f.planStatus(t))

	// A finished interrupt is not picked up again.
	require.NoError(t, m.RunOnce(ctx))
	assert.True(t, f.get(t, i.ID).FromMonitor)
}

func TestMonitor_WaitsForConvergingLeaves(t *testing.T) {
	f := newFixture(t, &recordingRuntime{correlate: true},
		interrupt.WithCompletionTimeout(20*time.Millisecond))
	f.seedSingleLeaf()
	ctx := context.Background()

	i := f.register(t, "", interrupt.TypeAbortAll)
	f.put("late", "root", execution.ModeLeaf, execution.StatusTaskWaiting)

	m := f.newMonitor(t, interrupt.WithMonitorClock(later()))
	require.NoError(t, m.RunOnce(ctx))
	assert.Equal(t, execution.StatusDiscontinuing, f.nodeStatus(t, "leaf"))
	assert.Equal(t, execution.StatusTaskWaiting, f.nodeStatus(t, "late"))
	assert.Equal(t, interrupt.StateProcessing, f.get(t, i.ID).State)
}

func TestMonitor_NoLeaves(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusRunning})
	f.put("root", "", execution.ModeParent, execution.StatusRunning)
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", Type: interrupt.TypeAbortAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	m := f.newMonitor(t)
	require.NoError(t, m.RunOnce(ctx))

	got := f.get(t, stale.ID)
	assert.Equal(t, interrupt.StateProcessedUnsuccessfully, got.State)
	assert.True(t, got.FromMonitor)
	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "root"))
	assert.Equal(t, execution.StatusAborted, f.planStatus(t))
}

func TestMonitor_NoLeavesFinishedPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusSucceeded})
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", Type: interrupt.TypeExpireAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	require.NoError(t, f.newMonitor(t).RunOnce(context.Background()))
	got := f.get(t, stale.ID)
	assert.Equal(t, interrupt.StateProcessedSuccessfully, got.State)
	assert.True(t, got.FromMonitor)
	assert.Equal(t, execution.StatusSucceeded, f.planStatus(t))
}

func TestMonitor_NoLeavesNodeScoped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusRunning})
	f.put("root", "", execution.ModeParent, execution.StatusRunning)
	f.put("stage", "root", execution.ModeParent, execution.StatusRunning)
	f.put("step-3", "root", execution.ModeLeaf, execution.StatusRunning)
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", NodeExecutionID: "stage", Type: interrupt.TypeAbortAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	require.NoError(t, f.newMonitor(t).RunOnce(ctx))
	assert.Equal(t, interrupt.StateProcessedUnsuccessfully, f.get(t, stale.ID).State)
	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "stage"))
	assert.Equal(t, execution.StatusRunning, f.nodeStatus(t, "root"), "outside the interrupt scope")
	assert.Equal(t, execution.StatusRunning, f.nodeStatus(t, "step-3"), "outside the interrupt scope")
	assert.Equal(t, execution.StatusRunning, f.planStatus(t))
}

func TestMonitor_NoLeavesNodeScopedFinishedNode(t *testing.T) {
	f := newFixture(t, nil)
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusRunning})
	f.put("root", "", execution.ModeParent, execution.StatusRunning)
	f.put("stage", "root", execution.ModeParent, execution.StatusSucceeded)
	f.put("step-3", "root", execution.ModeLeaf, execution.StatusRunning)
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", NodeExecutionID: "stage", Type: interrupt.TypeExpireAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	require.NoError(t, f.newMonitor(t).RunOnce(context.Background()))
	assert.Equal(t, interrupt.StateProcessedSuccessfully, f.get(t, stale.ID).State)
	assert.Equal(t, execution.StatusSucceeded, f.nodeStatus(t, "stage"))
	assert.Equal(t, execution.StatusRunning, f.planStatus(t))
}

func TestMonitor_PlanGone(t *testing.T) {
	f := newFixture(t, nil)
	stale := f.seed(t, interrupt.Interrupt{ID: "orphan", PlanExecutionID: "vanished",
		Type: interrupt.TypeAbortAll, State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	require.NoError(t, f.newMonitor(t).RunOnce(context.Background()))
	got := f.get(t, stale.ID)
	assert.Equal(t, interrupt.StateProcessedSuccessfully, got.State)
	assert.True(t, got.FromMonitor)
}

func TestMonitor_NodeScopedRefreshesPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	f.setStatus(t, "step-1", execution.StatusAborted)
	f.setStatus(t, "step-2", execution.StatusAborted)
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", NodeExecutionID: "stage", Type: interrupt.TypeAbortAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	require.NoError(t, f.newMonitor(t).RunOnce(context.Background()))
	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "stage"))
	assert.Equal(t, execution.StatusRunning, f.nodeStatus(t, "root"), "outside the interrupt scope")
	assert.Equal(t, execution.StatusRunning, f.planStatus(t))
	assert.Equal(t, interrupt.StateProcessedSuccessfully, f.get(t, stale.ID).State)
}

func TestMonitor_SkipsLockedInterrupt(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSingleLeaf()
	ctx := context.Background()
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", Type: interrupt.TypeAbortAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})
	f.setStatus(t, "leaf", execution.StatusDiscontinuing)

	held, err := f.locker.Acquire(ctx, "INTERRUPT_MONITOR_LOCK_"+stale.ID, 0, time.Minute)
	require.NoError(t, err)

	m := f.newMonitor(t)
	require.NoError(t, m.RunOnce(ctx))
	assert.Equal(t, execution.StatusDiscontinuing, f.nodeStatus(t, "leaf"))

	require.NoError(t, held.Release(ctx))
	require.NoError(t, m.RunOnce(ctx))
	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "leaf"))
}

func TestMonitor_LateAcknowledgementIsIgnored(t *testing.T) {
	f := newFixture(t, &recordingRuntime{correlate: true})
	f.seedSingleLeaf()
	ctx := context.Background()

	i := f.register(t, "", interrupt.TypeAbortAll)
	m := f.newMonitor(t, interrupt.WithMonitorClock(later()))
	require.NoError(t, m.RunOnce(ctx))
	f.eventuallyState(t, i.ID, interrupt.StateProcessedSuccessfully)

	// The worker finally reports back; the node is already final.
	require.NoError(t, f.waiter.Resolve(ctx, "corr-leaf", waiter.Response{}))
	require.Eventually(t, func() bool { return f.waiter.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{"leaf"}, f.runtime.called("conclude"))
	assert.Equal(t, execution.StatusAborted, f.nodeStatus(t, "leaf"))
}

func TestMonitor_StartStop(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSingleLeaf()
	f.setStatus(t, "leaf", execution.StatusQueued)
	stale := f.seed(t, interrupt.Interrupt{ID: "stale", Type: interrupt.TypeExpireAll,
		State: interrupt.StateProcessing, CreatedAt: time.Now().Add(-time.Hour)})

	m, err := interrupt.NewMonitor(f.svc, f.locker, interrupt.WithInterval(10*time.Millisecond),
		interrupt.WithWorkers(2))
	require.NoError(t, err)
	m.Start(context.Background())
	m.Start(context.Background())

	f.eventuallyState(t, stale.ID, interrupt.StateProcessedSuccessfully)
	m.Stop()
	assert.Equal(t, execution.StatusExpired, f.nodeStatus(t, "leaf"))
	assert.Equal(t, execution.StatusExpired, f.planStatus(t))
}
