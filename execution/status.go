//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package execution

// Status is the lifecycle status shared by plan and node executions.
type Status string

// Status values.
const (
	StatusRunning             Status = "RUNNING"
	StatusQueued              Status = "QUEUED"
	StatusAsyncWaiting        Status = "ASYNC_WAITING"
	StatusTaskWaiting         Status = "TASK_WAITING"
	StatusTimedWaiting        Status = "TIMED_WAITING"
	StatusInterventionWaiting Status = "INTERVENTION_WAITING"
	StatusApprovalWaiting     Status = "APPROVAL_WAITING"
	StatusInputWaiting        Status = "INPUT_WAITING"
	StatusPausing             Status = "PAUSING"
	StatusPaused              Status = "PAUSED"
	StatusDiscontinuing       Status = "DISCONTINUING"

	StatusSucceeded        Status = "SUCCEEDED"
	StatusFailed           Status = "FAILED"
	StatusErrored          Status = "ERRORED"
	StatusAborted          Status = "ABORTED"
	StatusExpired          Status = "EXPIRED"
	StatusIgnoreFailed     Status = "IGNORE_FAILED"
	StatusSkipped          Status = "SKIPPED"
	StatusApprovalRejected Status = "APPROVAL_REJECTED"
)

var (
	terminalStatuses = []Status{
		StatusSucceeded, StatusFailed, StatusErrored, StatusAborted,
		StatusExpired, StatusIgnoreFailed, StatusSkipped, StatusApprovalRejected,
	}
	activeStatuses = []Status{
		StatusRunning, StatusQueued, StatusAsyncWaiting, StatusTaskWaiting,
		StatusTimedWaiting, StatusPausing,
	}
	waitingStatuses = []Status{
		StatusInterventionWaiting, StatusApprovalWaiting, StatusInputWaiting,
	}
	retryableStatuses = []Status{
		StatusFailed, StatusErrored, StatusExpired, StatusApprovalRejected,
		StatusInterventionWaiting,
	}
	interventionStatuses = []Status{
		StatusInterventionWaiting, StatusApprovalWaiting, StatusInputWaiting,
		StatusFailed, StatusErrored, StatusExpired,
	}
	abortAndExpireStatuses = append(append(append([]Status{}, activeStatuses...),
		waitingStatuses...), StatusPaused, StatusDiscontinuing)
)

// IsTerminal reports whether s is a final status.
func (s Status) IsTerminal() bool { return contains(terminalStatuses, s) }

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	return s.IsTerminal() || contains(abortAndExpireStatuses, s)
}

// TerminalStatuses returns the final statuses.
func TerminalStatuses() []Status { return clone(terminalStatuses) }

// AbortAndExpireStatuses returns the statuses a node may be aborted or expired
// from. It is every non terminal status.
func AbortAndExpireStatuses() []Status { return clone(abortAndExpireStatuses) }

// ResumableStatuses returns the statuses in which the gate may still stop a
// leaf from running.
func ResumableStatuses() []Status { return clone(abortAndExpireStatuses) }

// RetryableStatuses returns the statuses a node can be retried from.
func RetryableStatuses() []Status { return clone(retryableStatuses) }

// InterventionStatuses returns the statuses in which an operator may force an
// outcome with MARK_SUCCESS, MARK_FAILED or IGNORE.
func InterventionStatuses() []Status { return clone(interventionStatuses) }

// PausableStatuses returns the statuses a leaf can move to PAUSED from.
func PausableStatuses() []Status {
	return append(append(clone(activeStatuses), waitingStatuses...), StatusPaused)
}

// ConvergingStatuses are statuses in which a leaf is known to be on its way
// out and can be forced by the monitor.
func ConvergingStatuses() []Status {
	return []Status{StatusDiscontinuing, StatusQueued}
}

// In reports whether s is one of set.
func (s Status) In(set ...Status) bool { return contains(set, s) }

// CalculateStatus folds the statuses of a set of executions into one.
//
// Non terminal statuses win over terminal ones. Among them DISCONTINUING beats
// active work, active work beats waits for intervention and a set where every
// unfinished execution is PAUSED is PAUSED. When everything finished, ABORTED
// beats EXPIRED which beats any failure; otherwise the result is SUCCEEDED.
func CalculateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusRunning
	}
	var (
		discontinuing, active, paused bool
		waiting                       Status
		aborted, expired, failed      bool
		unfinished                    int
	)
	for _, s := range statuses {
		switch {
		case s == StatusDiscontinuing:
			discontinuing = true
			unfinished++
		case contains(activeStatuses, s):
			active = true
			unfinished++
		case contains(waitingStatuses, s):
			if waiting == "" {
				waiting = s
			}
			unfinished++
		case s == StatusPaused:
			paused = true
			unfinished++
		case s == StatusAborted:
			aborted = true
		case s == StatusExpired:
			expired = true
		case s == StatusFailed, s == StatusErrored, s == StatusApprovalRejected:
			failed = true
		}
	}
	if unfinished > 0 {
		switch {
		case discontinuing:
			return StatusDiscontinuing
		case active:
			return StatusRunning
		case waiting != "":
			return waiting
		case paused:
			return StatusPaused
		}
	}
	switch {
	case aborted:
		return StatusAborted
	case expired:
		return StatusExpired
	case failed:
		return StatusFailed
	default:
		return StatusSucceeded
	}
}

func contains(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func clone(in []Status) []Status {
	out := make([]Status, len(in))
	copy(out, in)
	return out
}
