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

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/lock"
)

func TestLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	l := New(WithPollInterval(time.Millisecond))

	first, err := l.Acquire(ctx, "PLAN_LOCK_p", 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, "PLAN_LOCK_p", first.Name())

	_, err = l.Acquire(ctx, "PLAN_LOCK_p", 20*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, lock.ErrUnavailable)

	// Other names are independent.
	other, err := l.Acquire(ctx, "PLAN_LOCK_q", 0, time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	second, err := l.Acquire(ctx, "PLAN_LOCK_p", 0, time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestLocker_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := New(WithPollInterval(time.Millisecond))
	first, err := l.Acquire(ctx, "k", 0, time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = first.Release(ctx)
	}()
	second, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestLocker_HoldExpires(t *testing.T) {
	ctx := context.Background()
	l := New(WithPollInterval(time.Millisecond))
	stale, err := l.Acquire(ctx, "k", 0, 10*time.Millisecond)
	require.NoError(t, err)

	fresh, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	require.NoError(t, err)

	// The expired holder must not free the new holder's lock.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "k", 0, time.Minute)
	require.ErrorIs(t, err, lock.ErrUnavailable)
	require.NoError(t, fresh.Release(ctx))
}

func TestLocker_ContextCancel(t *testing.T) {
	l := New()
	held, err := l.Acquire(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k", time.Second, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
