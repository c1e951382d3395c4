//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package waiter is a correlation keyed rendezvous registry.
//
// One party registers "call me back when all of these keys resolve" with
// WaitForAll; another party resolves a key with Resolve, possibly on a
// different goroutine or, through waiter/redis, a different process. A
// response that arrives before anyone waits for it is retained for a TTL, so
// the two sides do not need to be ordered.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-interrupt-go/log"
)

const (
	defaultResponseTTL = time.Hour
	defaultPoolSize    = 16
)

// ErrNoKeys is returned by WaitForAll when no key is given.
var ErrNoKeys = errors.New("waiter: no keys")

// Response is the value a key resolves with.
type Response struct {
	Payload map[string]any `json:"payload,omitempty"`
	// Err is set when the resolving party reports a failure.
	Err string `json:"err,omitempty"`
}

// Callback receives the outcome of a wait. Exactly one method is called once
// per wait. The map holds the responses received so far keyed by key.
type Callback interface {
	Notify(ctx context.Context, responses map[string]Response)
	NotifyTimeout(ctx context.Context, responses map[string]Response)
	NotifyError(ctx context.Context, responses map[string]Response)
}

// Waiter is the rendezvous contract shared by Registry and the redis bridge.
type Waiter interface {
	WaitForAll(ctx context.Context, cb Callback, timeout time.Duration, keys ...string) (string, error)
	Resolve(ctx context.Context, key string, resp Response) error
}

type storedResponse struct {
	resp Response
	at   time.Time
}

type wait struct {
	id        string
	cb        Callback
	keys      []string
	responses map[string]Response
	timer     *time.Timer
	done      bool
}

// Registry is the in process Waiter.
type Registry struct {
	mu        sync.Mutex
	waits     map[string]*wait
	byKey     map[string]map[string]struct{}
	responses map[string]storedResponse
	ttl       time.Duration
	pool      *ants.Pool
	nowFunc   func() time.Time
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	ttl      time.Duration
	poolSize int
}

// WithResponseTTL sets how long an unclaimed response is retained.
func WithResponseTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPoolSize sets the number of workers running callbacks.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// New creates a Registry. Close releases its worker pool.
func New(opts ...Option) (*Registry, error) {
	o := options{ttl: defaultResponseTTL, poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}
	// Callbacks resolve keys themselves, so dispatch must never block on a
	// saturated pool.
	pool, err := ants.NewPool(o.poolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Errorf("waiter: callback panic: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create callback pool: %w", err)
	}
	return &Registry{
		waits:     make(map[string]*wait),
		byKey:     make(map[string]map[string]struct{}),
		responses: make(map[string]storedResponse),
		ttl:       o.ttl,
		pool:      pool,
		nowFunc:   time.Now,
	}, nil
}

// Close stops running callbacks. Pending waits never fire afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, w := range r.waits {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.done = true
	}
	r.waits = make(map[string]*wait)
	r.byKey = make(map[string]map[string]struct{})
	r.mu.Unlock()
	r.pool.Release()
}

// WaitForAll registers cb to run once every key has resolved, or with the
// partial responses when timeout elapses first. A zero timeout waits forever.
// It returns the wait id.
func (r *Registry) WaitForAll(ctx context.Context, cb Callback, timeout time.Duration,
	keys ...string) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeys
	}
	w := &wait{
		id:        uuid.NewString(),
		cb:        cb,
		keys:      dedupe(keys),
		responses: make(map[string]Response, len(keys)),
	}

	r.mu.Lock()
	r.pruneLocked()
	for _, k := range w.keys {
		if stored, ok := r.responses[k]; ok {
			w.responses[k] = stored.resp
			continue
		}
		if r.byKey[k] == nil {
			r.byKey[k] = make(map[string]struct{})
		}
		r.byKey[k][w.id] = struct{}{}
	}
	if len(w.responses) == len(w.keys) {
		w.done = true
		r.mu.Unlock()
		r.dispatch(w, false)
		return w.id, nil
	}
	r.waits[w.id] = w
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { r.expire(w.id) })
	}
	r.mu.Unlock()
	log.Debugf("waiter: wait %s registered on %v", w.id, w.keys)
	return w.id, nil
}

// Resolve records resp for key and fires every wait it completes.
func (r *Registry) Resolve(ctx context.Context, key string, resp Response) error {
	var ready []*wait
	r.mu.Lock()
	r.pruneLocked()
	r.responses[key] = storedResponse{resp: resp, at: r.nowFunc()}
	for id := range r.byKey[key] {
		w, ok := r.waits[id]
		if !ok || w.done {
			continue
		}
		w.responses[key] = resp
		if len(w.responses) == len(w.keys) {
			r.finishLocked(w)
			ready = append(ready, w)
		}
	}
	delete(r.byKey, key)
	r.mu.Unlock()

	for _, w := range ready {
		r.dispatch(w, false)
	}
	return nil
}

// Pending returns the number of waits that have not fired.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	w, ok := r.waits[id]
	if !ok || w.done {
		r.mu.Unlock()
		return
	}
	r.finishLocked(w)
	r.mu.Unlock()
	log.Warnf("waiter: wait %s timed out with %d/%d responses", w.id, len(w.responses), len(w.keys))
	r.dispatch(w, true)
}

func (r *Registry) finishLocked(w *wait) {
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(r.waits, w.id)
	for _, k := range w.keys {
		if ids, ok := r.byKey[k]; ok {
			delete(ids, w.id)
			if len(ids) == 0 {
				delete(r.byKey, k)
			}
		}
	}
}

func (r *Registry) dispatch(w *wait, timedOut bool) {
	responses := make(map[string]Response, len(w.responses))
	for k, v := range w.responses {
		responses[k] = v
	}
	task := func() {
		ctx := context.Background()
		switch {
		case hasError(responses):
			w.cb.NotifyError(ctx, responses)
		case timedOut:
			w.cb.NotifyTimeout(ctx, responses)
		default:
			w.cb.Notify(ctx, responses)
		}
	}
	err := r.pool.Submit(task)
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		log.Debugf("waiter: pool busy, running callback for wait %s on its own goroutine", w.id)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					log.Errorf("waiter: callback panic: %v", p)
				}
			}()
			task()
		}()
	default:
		log.Errorf("waiter: submit callback for wait %s: %v", w.id, err)
	}
}

func (r *Registry) pruneLocked() {
	cutoff := r.nowFunc().Add(-r.ttl)
	for k, v := range r.responses {
		if v.at.Before(cutoff) {
			delete(r.responses, k)
		}
	}
}

func hasError(responses map[string]Response) bool {
	for _, v := range responses {
		if v.Err != "" {
			return true
		}
	}
	return false
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	OnNotify  func(ctx context.Context, responses map[string]Response)
	OnTimeout func(ctx context.Context, responses map[string]Response)
	OnError   func(ctx context.Context, responses map[string]Response)
}

// Notify implements Callback.
func (c CallbackFuncs) Notify(ctx context.Context, responses map[string]Response) {
	if c.OnNotify != nil {
		c.OnNotify(ctx, responses)
	}
}

// NotifyTimeout implements Callback.
func (c CallbackFuncs) NotifyTimeout(ctx context.Context, responses map[string]Response) {
	if c.OnTimeout != nil {
		c.OnTimeout(ctx, responses)
	}
}

// NotifyError implements Callback.
func (c CallbackFuncs) NotifyError(ctx context.Context, responses map[string]Response) {
	if c.OnError != nil {
		c.OnError(ctx, responses)
	}
}
