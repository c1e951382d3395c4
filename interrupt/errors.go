//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt

import (
	"errors"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/lock"
)

// Errors.
var (
	// ErrLockUnavailable is returned when the plan lock could not be taken in
	// time. The caller should retry.
	ErrLockUnavailable = lock.ErrUnavailable

	ErrNoHandlerForType         = errors.New("no handler for interrupt type")
	ErrInterruptNotFound        = errors.New("interrupt not found")
	ErrUnsupportedInterruptType = errors.New("unsupported interrupt type")
	ErrMultiplePlanInterrupts   = errors.New("more than one active plan level interrupt")
	ErrInterruptAlreadyActive   = errors.New("interrupt of this type already active")
	ErrNoActivePause            = errors.New("no active pause to resume")
	ErrInvalidNodeStatus        = errors.New("node status does not allow this interrupt")
	ErrInvalidPackage           = errors.New("invalid interrupt package")
)

// IsIntegrityError reports whether err means a document vanished between read
// and write.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrInterruptNotFound) ||
		errors.Is(err, execution.ErrNodeNotFound) ||
		errors.Is(err, ErrMultiplePlanInterrupts)
}
