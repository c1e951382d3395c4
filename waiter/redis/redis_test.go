//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

func newBridge(t *testing.T, mr *miniredis.Miniredis) *Bridge {
	t.Helper()
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	local, err := waiter.New()
	require.NoError(t, err)
	b, err := New(context.Background(), client, local)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close()
		local.Close()
		client.Close()
	})
	return b
}

func notifyChan() (waiter.Callback, chan map[string]waiter.Response) {
	ch := make(chan map[string]waiter.Response, 1)
	return waiter.CallbackFuncs{
		OnNotify: func(_ context.Context, r map[string]waiter.Response) { ch <- r },
	}, ch
}

func TestBridge_CrossProcessResolve(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newBridge(t, mr)
	b := newBridge(t, mr)

	cb, ch := notifyChan()
	_, err := a.WaitForAll(ctx, cb, 5*time.Second, "node|intr")
	require.NoError(t, err)

	require.NoError(t, b.Resolve(ctx, "node|intr", waiter.Response{Payload: map[string]any{"by": "b"}}))
	select {
	case r := <-ch:
		require.Equal(t, "b", r["node|intr"].Payload["by"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote resolution was not delivered")
	}

	require.True(t, mr.Exists("waiter:response:node|intr"))
	require.Equal(t, time.Hour, mr.TTL("waiter:response:node|intr"))
}

func TestBridge_ReplaysStoredResponse(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newBridge(t, mr)
	require.NoError(t, b.Resolve(ctx, "early", waiter.Response{}))

	a := newBridge(t, mr)
	cb, ch := notifyChan()
	_, err := a.WaitForAll(ctx, cb, 5*time.Second, "early")
	require.NoError(t, err)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("stored response was not replayed")
	}
}

func TestBridge_MalformedStoredResponse(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newBridge(t, mr)
	require.NoError(t, mr.Set("waiter:response:bad", "{"))

	cb, ch := notifyChan()
	_, err := a.WaitForAll(ctx, cb, 5*time.Second, "bad")
	require.NoError(t, err)
	select {
	case <-ch:
		t.Fatal("malformed response must not resolve")
	case <-time.After(30 * time.Millisecond):
	}
}
