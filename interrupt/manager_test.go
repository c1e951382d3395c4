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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
)

func TestManager_RegisterRejectsBadPackages(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	ctx := context.Background()

	_, err := f.mgr.Register(ctx, interrupt.Package{PlanExecutionID: planID, Type: "SHUTDOWN"})
	require.ErrorIs(t, err, interrupt.ErrNoHandlerForType)

	_, err = f.mgr.Register(ctx, interrupt.Package{Type: interrupt.TypeAbortAll})
	require.ErrorIs(t, err, interrupt.ErrInvalidPackage)

	_, err = f.mgr.Register(ctx, interrupt.Package{PlanExecutionID: planID, Type: interrupt.TypeAbort})
	require.ErrorIs(t, err, interrupt.ErrInvalidPackage)

	f.nodes.PutNode(execution.NodeExecution{ID: "foreign", PlanExecutionID: "plan-2", Mode: execution.ModeLeaf,
		Status: execution.StatusRunning})
	_, err = f.mgr.Register(ctx, interrupt.Package{PlanExecutionID: planID, NodeExecutionID: "foreign",
		Type: interrupt.TypeAbort})
	require.ErrorIs(t, err, interrupt.ErrInvalidPackage)

	all, err := f.svc.FetchAllInterrupts(ctx, planID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_RegisterDefaultsIssuer(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()

	i := f.register(t, "", interrupt.TypePauseAll)
	assert.NotEmpty(t, i.ID)
	assert.Equal(t, interrupt.StateRegistered, i.State)
	assert.Equal(t, interrupt.IssuerManual, i.Config.IssuedBy.Type)
	assert.False(t, i.Config.IssuedBy.IssueTime.IsZero())

	trigger, err := f.mgr.Register(context.Background(), interrupt.Package{
		PlanExecutionID: planID,
		NodeExecutionID: "stage",
		Type:            interrupt.TypePauseAll,
		Config:          interrupt.Config{IssuedBy: interrupt.IssuedBy{Type: interrupt.IssuerTrigger, Identifier: "cron"}},
		Metadata:        map[string]string{"reason": "maintenance"},
	})
	require.NoError(t, err)
	stored := f.get(t, trigger.ID)
	assert.Equal(t, interrupt.IssuerTrigger, stored.Config.IssuedBy.Type)
	assert.Equal(t, "cron", stored.Config.IssuedBy.Identifier)
	assert.Equal(t, "maintenance", stored.Metadata["reason"])
}

func TestManager_LockUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	ctx := context.Background()

	held, err := f.locker.Acquire(ctx, "PLAN_LOCK_"+planID, 0, time.Minute)
	require.NoError(t, err)

	impatient := interrupt.NewManager(f.svc, f.locker, interrupt.WithLockWait(20*time.Millisecond))
	_, err = impatient.Register(ctx, interrupt.Package{PlanExecutionID: planID, Type: interrupt.TypePauseAll})
	require.ErrorIs(t, err, interrupt.ErrLockUnavailable)

	all, err := f.svc.FetchAllInterrupts(ctx, planID)
	require.NoError(t, err)
	require.Empty(t, all)

	// Other plans are not affected.
	f.nodes.PutPlan(execution.PlanExecution{ID: "plan-2", Status: execution.StatusRunning})
	_, err = impatient.Register(ctx, interrupt.Package{PlanExecutionID: "plan-2", Type: interrupt.TypePauseAll})
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	_, err = impatient.Register(ctx, interrupt.Package{PlanExecutionID: planID, Type: interrupt.TypePauseAll})
	require.NoError(t, err)
}

func TestManager_WaitsForLock(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	ctx := context.Background()

	held, err := f.locker.Acquire(ctx, "PLAN_LOCK_"+planID, 0, time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	start := time.Now()
	i := f.register(t, "", interrupt.TypePauseAll)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, interrupt.TypePauseAll, i.Type)
}

func TestManager_ReleasesLockOnHandlerError(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	ctx := context.Background()

	_, err := f.mgr.Register(ctx, interrupt.Package{PlanExecutionID: planID, Type: interrupt.TypeResumeAll})
	require.ErrorIs(t, err, interrupt.ErrNoActivePause)

	l, err := f.locker.Acquire(ctx, "PLAN_LOCK_"+planID, 0, time.Minute)
	require.NoError(t, err, "plan lock must be free after a failed registration")
	require.NoError(t, l.Release(ctx))
}

func TestManager_ConcurrentRegistrations(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()
	f.setStatus(t, "step-3", execution.StatusFailed)

	pkgs := []interrupt.Package{
		{PlanExecutionID: planID, Type: interrupt.TypePauseAll},
		{PlanExecutionID: planID, NodeExecutionID: "step-3", Type: interrupt.TypeRetry},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(pkgs))
	for n, pkg := range pkgs {
		wg.Add(1)
		go func(n int, pkg interrupt.Package) {
			defer wg.Done()
			_, errs[n] = f.mgr.Register(context.Background(), pkg)
		}(n, pkg)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	all, err := f.svc.FetchAllInterrupts(context.Background(), planID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestManager_ConcurrentDuplicatePauses(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTree()

	const n = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Register(context.Background(),
				interrupt.Package{PlanExecutionID: planID, Type: interrupt.TypePauseAll})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, interrupt.ErrInterruptAlreadyActive) {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
}
