//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package redis makes waiter resolution visible across processes.
//
// Resolve stores the response under a TTL and publishes it; every Bridge
// subscribes and resolves the key in its own registry. WaitForAll replays
// responses that were stored before the wait was registered.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-interrupt-go/log"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

const (
	defaultKeyPrefix = "waiter:response:"
	defaultChannel   = "waiter:resolved"
	defaultTTL       = time.Hour
)

type message struct {
	Key      string          `json:"key"`
	Response waiter.Response `json:"response"`
}

// Bridge is a waiter.Waiter shared by several processes through redis.
type Bridge struct {
	local   *waiter.Registry
	client  redis.UniversalClient
	prefix  string
	channel string
	ttl     time.Duration

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithKeyPrefix sets the prefix of stored responses.
func WithKeyPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = prefix }
}

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(b *Bridge) { b.channel = channel }
}

// WithResponseTTL sets how long stored responses live.
func WithResponseTTL(ttl time.Duration) Option {
	return func(b *Bridge) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// New subscribes to the resolution channel and returns a Bridge feeding local.
func New(ctx context.Context, client redis.UniversalClient, local *waiter.Registry,
	opts ...Option) (*Bridge, error) {
	b := &Bridge{
		local:   local,
		client:  client,
		prefix:  defaultKeyPrefix,
		channel: defaultChannel,
		ttl:     defaultTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pubsub = client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.wg.Add(1)
	go b.consume(b.pubsub.Channel())
	return b, nil
}

// Close unsubscribes. The local registry is left to its owner.
func (b *Bridge) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// WaitForAll implements waiter.Waiter.
func (b *Bridge) WaitForAll(ctx context.Context, cb waiter.Callback, timeout time.Duration,
	keys ...string) (string, error) {
	if len(keys) > 0 {
		storeKeys := make([]string, len(keys))
		for i, k := range keys {
			storeKeys[i] = b.prefix + k
		}
		vals, err := b.client.MGet(ctx, storeKeys...).Result()
		if err != nil {
			return "", fmt.Errorf("load stored responses: %w", err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var resp waiter.Response
			if err := json.Unmarshal([]byte(s), &resp); err != nil {
				log.Warnf("waiter bridge: drop malformed response for %s: %v", keys[i], err)
				continue
			}
			if err := b.local.Resolve(ctx, keys[i], resp); err != nil {
				return "", err
			}
		}
	}
	return b.local.WaitForAll(ctx, cb, timeout, keys...)
}

// Resolve implements waiter.Waiter.
func (b *Bridge) Resolve(ctx context.Context, key string, resp waiter.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response for %s: %w", key, err)
	}
	msg, err := json.Marshal(message{Key: key, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", key, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.prefix+key, body, b.ttl)
	pipe.Publish(ctx, b.channel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return b.local.Resolve(ctx, key, resp)
}

func (b *Bridge) consume(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for m := range ch {
		var msg message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			log.Warnf("waiter bridge: drop malformed message: %v", err)
			continue
		}
		if err := b.local.Resolve(context.Background(), msg.Key, msg.Response); err != nil {
			log.Errorf("waiter bridge: resolve %s: %v", msg.Key, err)
		}
	}
}
