//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process local lock.Locker.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-interrupt-go/lock"
)

const defaultPollInterval = 10 * time.Millisecond

type holder struct {
	token     string
	expiresAt time.Time
}

// Locker is a lock.Locker backed by a map.
type Locker struct {
	mu      sync.Mutex
	held    map[string]holder
	poll    time.Duration
	nowFunc func() time.Time
}

// Option configures a Locker.
type Option func(*Locker)

// WithPollInterval sets how often a blocked Acquire retries.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// New creates a Locker.
func New(opts ...Option) *Locker {
	l := &Locker{
		held:    make(map[string]holder),
		poll:    defaultPollInterval,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, name string, wait, hold time.Duration) (lock.Lock, error) {
	token := uuid.NewString()
	deadline := l.nowFunc().Add(wait)
	for {
		if l.tryAcquire(name, token, hold) {
			return &heldLock{locker: l, name: name, token: token}, nil
		}
		if !l.nowFunc().Before(deadline) {
			return nil, fmt.Errorf("acquire %s: %w", name, lock.ErrUnavailable)
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) tryAcquire(name, token string, hold time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFunc()
	if h, ok := l.held[name]; ok && now.Before(h.expiresAt) {
		return false
	}
	l.held[name] = holder{token: token, expiresAt: now.Add(hold)}
	return true
}

func (l *Locker) release(name, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[name]; ok && h.token == token {
		delete(l.held, name)
	}
}

type heldLock struct {
	locker *Locker
	name   string
	token  string
}

func (h *heldLock) Name() string { return h.name }

func (h *heldLock) Release(ctx context.Context) error {
	h.locker.release(h.name, h.token)
	return nil
}
