//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package interrupt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	execmem "trpc.group/trpc-go/trpc-interrupt-go/execution/inmemory"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt/inmemory"
	"trpc.group/trpc-go/trpc-interrupt-go/lock"
	lockmem "trpc.group/trpc-go/trpc-interrupt-go/lock/inmemory"
	"trpc.group/trpc-go/trpc-interrupt-go/waiter"
)

const planID = "plan-1"

// recordingRuntime records every call. With correlate set, Discontinue hands
// back "corr-<node>" and the test decides when the node reports back.
type recordingRuntime struct {
	mu        sync.Mutex
	correlate bool

	discontinueErr error
	retryErr       error
	proceedErr     error

	calls       map[string][]string
	retryParams map[string]any
}

func (r *recordingRuntime) record(kind, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string][]string)
	}
	r.calls[kind] = append(r.calls[kind], nodeID)
}

func (r *recordingRuntime) called(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[kind]...)
}

func (r *recordingRuntime) Discontinue(ctx context.Context, node execution.NodeExecution,
	i interrupt.Interrupt) (string, error) {
	r.record("discontinue", node.ID)
	if r.discontinueErr != nil {
		return "", r.discontinueErr
	}
	if r.correlate {
		return "corr-" + node.ID, nil
	}
	return "", nil
}

func (r *recordingRuntime) Resume(ctx context.Context, node execution.NodeExecution) error {
	r.record("resume", node.ID)
	return nil
}

func (r *recordingRuntime) Retry(ctx context.Context, node execution.NodeExecution, params map[string]any) error {
	r.record("retry", node.ID)
	r.mu.Lock()
	r.retryParams = params
	r.mu.Unlock()
	return r.retryErr
}

func (r *recordingRuntime) ProceedWithDefault(ctx context.Context, node execution.NodeExecution) error {
	r.record("proceed", node.ID)
	return r.proceedErr
}

func (r *recordingRuntime) Conclude(ctx context.Context, node execution.NodeExecution) error {
	r.record("conclude", node.ID)
	return nil
}

type fixture struct {
	nodes   *execmem.Store
	plans   execution.PlanStore
	store   *historyStore
	waiter  *waiter.Registry
	locker  lock.Locker
	runtime *recordingRuntime
	svc     *interrupt.Service
	mgr     *interrupt.Manager
}

// historyStore remembers every state an interrupt moved to.
type historyStore struct {
	*inmemory.Store

	mu     sync.Mutex
	states map[string][]interrupt.State
}

func (s *historyStore) UpdateState(ctx context.Context, id string, state interrupt.State, fromMonitor bool,
	from ...interrupt.State) (interrupt.Interrupt, bool, error) {
	i, ok, err := s.Store.UpdateState(ctx, id, state, fromMonitor, from...)
	if ok {
		s.mu.Lock()
		if s.states == nil {
			s.states = make(map[string][]interrupt.State)
		}
		s.states[id] = append(s.states[id], state)
		s.mu.Unlock()
	}
	return i, ok, err
}

func (s *historyStore) history(id string) []interrupt.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interrupt.State(nil), s.states[id]...)
}

func newFixture(t *testing.T, rt *recordingRuntime, opts ...interrupt.ServiceOption) *fixture {
	t.Helper()
	if rt == nil {
		rt = &recordingRuntime{}
	}
	reg, err := waiter.New(waiter.WithPoolSize(4))
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	nodes := execmem.NewStore()
	f := &fixture{
		nodes:   nodes,
		plans:   nodes.Plans(),
		store:   &historyStore{Store: inmemory.NewStore()},
		waiter:  reg,
		locker:  lockmem.New(lockmem.WithPollInterval(5 * time.Millisecond)),
		runtime: rt,
	}
	f.svc = interrupt.NewService(f.store, f.nodes, f.plans, rt, reg, opts...)
	f.mgr = interrupt.NewManager(f.svc, f.locker, interrupt.WithLockWait(time.Second))
	return f
}

// seedTree builds:
//
//	root (PARENT)
//	├── stage (PARENT)
//	│   ├── step-1 (LEAF, RUNNING)
//	│   └── step-2 (LEAF, QUEUED)
//	└── step-3 (LEAF, RUNNING)
func (f *fixture) seedTree() {
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusRunning})
	f.put("root", "", execution.ModeParent, execution.StatusRunning)
	f.put("stage", "root", execution.ModeParent, execution.StatusRunning)
	f.put("step-1", "stage", execution.ModeLeaf, execution.StatusRunning)
	f.put("step-2", "stage", execution.ModeLeaf, execution.StatusQueued)
	f.put("step-3", "root", execution.ModeLeaf, execution.StatusRunning)
}

// seedSingleLeaf builds a root with one running leaf.
func (f *fixture) seedSingleLeaf() {
	f.nodes.PutPlan(execution.PlanExecution{ID: planID, Status: execution.StatusRunning})
	f.put("root", "", execution.ModeParent, execution.StatusRunning)
	f.put("leaf", "root", execution.ModeLeaf, execution.StatusRunning)
}

func (f *fixture) put(id, parent string, mode execution.Mode, status execution.Status) {
	f.nodes.PutNode(execution.NodeExecution{
		ID: id, PlanExecutionID: planID, ParentID: parent, Mode: mode, Status: status,
	})
}

func (f *fixture) setStatus(t *testing.T, id string, status execution.Status) {
	t.Helper()
	_, _, err := f.nodes.UpdateStatus(context.Background(), id, status)
	require.NoError(t, err)
}

func (f *fixture) nodeStatus(t *testing.T, id string) execution.Status {
	t.Helper()
	n, err := f.nodes.Get(context.Background(), id)
	require.NoError(t, err)
	return n.Status
}

func (f *fixture) planStatus(t *testing.T) execution.Status {
	t.Helper()
	p, err := f.plans.Get(context.Background(), planID)
	require.NoError(t, err)
	return p.Status
}

func (f *fixture) get(t *testing.T, id string) interrupt.Interrupt {
	t.Helper()
	i, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return i
}

func (f *fixture) register(t *testing.T, node string, typ interrupt.Type) interrupt.Interrupt {
	t.Helper()
	i, err := f.mgr.Register(context.Background(), interrupt.Package{
		PlanExecutionID: planID,
		NodeExecutionID: node,
		Type:            typ,
	})
	require.NoError(t, err)
	return i
}

func (f *fixture) check(t *testing.T, node string) interrupt.ExecutionCheck {
	t.Helper()
	c, err := f.svc.CheckInterruptsPreInvocation(context.Background(), planID, node)
	require.NoError(t, err)
	return c
}

// seed stores an interrupt directly, bypassing the handlers.
func (f *fixture) seed(t *testing.T, i interrupt.Interrupt) interrupt.Interrupt {
	t.Helper()
	if i.PlanExecutionID == "" {
		i.PlanExecutionID = planID
	}
	require.NoError(t, f.store.Create(context.Background(), i))
	return i
}

func (f *fixture) eventuallyState(t *testing.T, id string, state interrupt.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		i, err := f.svc.Get(context.Background(), id)
		return err == nil && i.State == state
	}, 2*time.Second, 5*time.Millisecond, "interrupt %s never reached %s", id, state)
}

func (f *fixture) eventuallyNode(t *testing.T, id string, status execution.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := f.nodes.Get(context.Background(), id)
		return err == nil && n.Status == status
	}, 2*time.Second, 5*time.Millisecond, "node %s never reached %s", id, status)
}

func (f *fixture) newMonitor(t *testing.T, opts ...interrupt.MonitorOption) *interrupt.Monitor {
	t.Helper()
	m, err := interrupt.NewMonitor(f.svc, f.locker, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

// later is a monitor clock past the default staleness threshold.
func later() func() time.Time {
	return func() time.Time { return time.Now().UTC().Add(15 * time.Minute) }
}
