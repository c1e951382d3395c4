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

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSetGetClientBuilder(t *testing.T) {
	oldBuilder := GetClientBuilder()
	defer func() { SetClientBuilder(oldBuilder) }()

	invoked := false
	SetClientBuilder(func(opts ...ClientBuilderOpt) (redis.UniversalClient, error) {
		invoked = true
		return nil, nil
	})
	_, err := GetClientBuilder()(WithClientBuilderURL("redis://localhost:6379"))
	require.NoError(t, err)
	require.True(t, invoked)
}

func TestDefaultClientBuilder_Errors(t *testing.T) {
	_, err := DefaultClientBuilder()
	require.EqualError(t, err, "redis: url is empty")

	_, err = DefaultClientBuilder(WithClientBuilderURL("http://not-redis"))
	require.ErrorContains(t, err, "redis: parse url")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(),
		WithClientBuilderURL("redis://"+mr.Addr()+"/0"), WithClientName("interruptd"))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), WithClientBuilderURL("redis://"+addr))
	require.ErrorContains(t, err, "redis: ping")
}

func TestRegistry(t *testing.T) {
	oldRegistry := redisRegistry
	redisRegistry = make(map[string][]ClientBuilderOpt)
	defer func() { redisRegistry = oldRegistry }()

	_, ok := GetRedisInstance("locks")
	require.False(t, ok)

	RegisterRedisInstance("locks", WithClientBuilderURL("redis://a:6379"))
	RegisterRedisInstance("locks", WithClientName("interruptd"))
	opts, ok := GetRedisInstance("locks")
	require.True(t, ok)

	cfg := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(cfg)
	}
	require.Equal(t, "redis://a:6379", cfg.URL)
	require.Equal(t, "interruptd", cfg.ClientName)
}
