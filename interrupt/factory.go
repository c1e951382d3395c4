//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt

import "fmt"

// Factory maps interrupt types to handlers.
type Factory struct {
	handlers map[Type]Handler
}

// NewFactory creates a Factory from an explicit table.
func NewFactory(handlers map[Type]Handler) *Factory {
	f := &Factory{handlers: make(map[Type]Handler, len(handlers))}
	for t, h := range handlers {
		f.handlers[t] = h
	}
	return f
}

func newDefaultFactory(s *Service) *Factory {
	abort := &discontinueHandler{svc: s}
	all := &discontinueAllHandler{svc: s}
	intervention := &interventionHandler{svc: s}
	return NewFactory(map[Type]Handler{
		TypeAbort:              abort,
		TypeMarkExpired:        abort,
		TypeAbortAll:           all,
		TypeExpireAll:          all,
		TypeUserMarkedFailAll:  all,
		TypePauseAll:           &pauseAllHandler{svc: s},
		TypeResumeAll:          &resumeAllHandler{svc: s},
		TypeRetry:              &retryHandler{svc: s},
		TypeMarkSuccess:        intervention,
		TypeMarkFailed:         intervention,
		TypeIgnore:             intervention,
		TypeProceedWithDefault: &proceedWithDefaultHandler{svc: s},
		TypeCustomFailure:      &customFailureHandler{svc: s},
	})
}

// Handler returns the handler of t.
func (f *Factory) Handler(t Type) (Handler, error) {
	h, ok := f.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandlerForType, t)
	}
	return h, nil
}
