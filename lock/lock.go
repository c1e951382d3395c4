//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package lock defines named, time bounded mutual exclusion used to linearize
// interrupt registration per plan and to partition monitor work.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when a lock could not be acquired within the wait
// window. Callers are expected to retry.
var ErrUnavailable = errors.New("lock unavailable")

// Lock is a held lock.
type Lock interface {
	// Name returns the lock name.
	Name() string
	// Release frees the lock. Releasing a lock that already expired or was
	// taken over by another holder is not an error.
	Release(ctx context.Context) error
}

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks for at most wait trying to take name. The lock is held
	// for at most hold, after which it expires on its own. A zero wait means
	// a single attempt.
	Acquire(ctx context.Context, name string, wait, hold time.Duration) (Lock, error)
}
