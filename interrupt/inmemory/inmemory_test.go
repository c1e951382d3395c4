//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Now().UTC()

	require.NoError(t, s.Create(ctx, interrupt.Interrupt{
		ID: "a", PlanExecutionID: "p", Type: interrupt.TypePauseAll,
		State: interrupt.StateRegistered, CreatedAt: base,
		Metadata: map[string]string{"k": "v"},
	}))
	require.NoError(t, s.Create(ctx, interrupt.Interrupt{
		ID: "b", PlanExecutionID: "p", NodeExecutionID: "n", Type: interrupt.TypeAbort,
		State: interrupt.StateProcessing, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.Create(ctx, interrupt.Interrupt{
		ID: "c", PlanExecutionID: "q", Type: interrupt.TypeAbortAll,
		State: interrupt.StateProcessing, CreatedAt: base.Add(2 * time.Second),
	}))
	require.Error(t, s.Create(ctx, interrupt.Interrupt{ID: "a"}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Metadata["k"] = "mutated"
	again, _ := s.Get(ctx, "a")
	assert.Equal(t, "v", again.Metadata["k"])

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, interrupt.ErrInterruptNotFound)

	list, err := s.List(ctx, interrupt.Filter{PlanExecutionID: "p"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID, "newest first")

	list, err = s.List(ctx, interrupt.Filter{PlanExecutionID: "p", PlanScoped: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	list, err = s.List(ctx, interrupt.Filter{
		Types:         []interrupt.Type{interrupt.TypeAbortAll, interrupt.TypeAbort},
		States:        []interrupt.State{interrupt.StateProcessing},
		CreatedBefore: base.Add(2 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	n, err := s.DeleteByPlans(ctx, []string{"q"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestStore_UpdateStateIsFiltered(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Create(ctx, interrupt.Interrupt{
		ID: "a", PlanExecutionID: "p", Type: interrupt.TypeAbortAll, State: interrupt.StateProcessing,
	}))

	out, ok, err := s.UpdateState(ctx, "a", interrupt.StateProcessedSuccessfully, true,
		interrupt.StateRegistered, interrupt.StateProcessing)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, out.FromMonitor)

	// A final state is never left.
	out, ok, err = s.UpdateState(ctx, "a", interrupt.StateProcessing, false, interrupt.StateRegistered)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, interrupt.StateProcessedSuccessfully, out.State)
	require.True(t, out.FromMonitor)

	_, _, err = s.UpdateState(ctx, "missing", interrupt.StateProcessing, false)
	require.ErrorIs(t, err, interrupt.ErrInterruptNotFound)
}
