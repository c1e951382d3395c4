//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt

// State is the processing state of an interrupt.
type State string

// States.
const (
	StateRegistered              State = "REGISTERED"
	StateProcessing              State = "PROCESSING"
	StateProcessedSuccessfully   State = "PROCESSED_SUCCESSFULLY"
	StateProcessedUnsuccessfully State = "PROCESSED_UNSUCCESSFULLY"
)

// IsTerminal reports whether s is final.
func (s State) IsTerminal() bool {
	return s == StateProcessedSuccessfully || s == StateProcessedUnsuccessfully
}

// ActiveStates are the non terminal states.
func ActiveStates() []State { return []State{StateRegistered, StateProcessing} }

// CanTransition reports whether an interrupt may move from one state to
// another. Moves only go forward and a final state is never left. Handlers
// always pass through PROCESSING; a REGISTERED interrupt is finished directly
// only when it is closed without acting, e.g. a superseded pause, a plan that
// already ended or a monitor sweep.
func CanTransition(from, to State) bool {
	switch from {
	case StateRegistered:
		return to == StateProcessing || to.IsTerminal()
	case StateProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

// sourcesOf returns the states an interrupt may reach to from.
func sourcesOf(to State) []State {
	var out []State
	for _, from := range []State{StateRegistered, StateProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
