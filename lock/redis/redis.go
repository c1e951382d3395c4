//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a lock.Locker on top of redis SET NX.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-interrupt-go/lock"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
)

const (
	defaultKeyPrefix    = "lock:"
	defaultPollInterval = 50 * time.Millisecond
)

var errBusy = errors.New("lock busy")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lock.Locker backed by a redis.UniversalClient.
type Locker struct {
	client redis.UniversalClient
	prefix string
	poll   time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithKeyPrefix sets the prefix prepended to lock names.
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// New creates a Locker.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: defaultKeyPrefix, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, name string, wait, hold time.Duration) (lock.Lock, error) {
	key := l.prefix + name
	token := uuid.NewString()
	try := func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, key, token, hold).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errBusy
		}
		return struct{}{}, nil
	}

	var err error
	if wait <= 0 {
		_, err = try()
	} else {
		_, err = backoff.Retry(ctx, try,
			backoff.WithBackOff(backoff.NewConstantBackOff(l.poll)),
			backoff.WithMaxElapsedTime(wait),
		)
	}
	switch {
	case err == nil:
		return &heldLock{locker: l, name: name, key: key, token: token}, nil
	case errors.Is(err, errBusy):
		return nil, fmt.Errorf("acquire %s: %w", name, lock.ErrUnavailable)
	default:
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
}

type heldLock struct {
	locker *Locker
	name   string
	key    string
	token  string
}

func (h *heldLock) Name() string { return h.name }

func (h *heldLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, h.locker.client, []string{h.key}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", h.name, err)
	}
	if n == 0 {
		log.Debugf("lock %s expired before release", h.name)
	}
	return nil
}
