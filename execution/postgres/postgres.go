//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres stores plan and node executions in PostgreSQL.
//
// The execution runtime owns these tables. The interrupt engine only reads
// them and applies filtered status updates, so every write here is a
// conditional UPDATE keyed by the expected current status.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	storage "trpc.group/trpc-go/trpc-interrupt-go/storage/postgres"
)

var (
	_ execution.NodeStore = (*Store)(nil)
	_ execution.PlanStore = planStore{}
)

const (
	defaultNodeTable = "node_executions"
	defaultPlanTable = "plan_executions"

	nodeFields = "id, plan_execution_id, parent_id, mode, status, old_retry, interrupt_histories, created_at, last_updated_at"
	planFields = "id, status, created_at, last_updated_at"
)

const (
	sqlCreatePlanTable = `
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated_at TIMESTAMPTZ NOT NULL
		)`

	sqlCreateNodeTable = `
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			plan_execution_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			old_retry BOOLEAN NOT NULL DEFAULT FALSE,
			interrupt_histories JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			last_updated_at TIMESTAMPTZ NOT NULL
		)`

	sqlCreateNodeIndex = `
		CREATE INDEX IF NOT EXISTS %s_plan_idx ON %s (plan_execution_id, created_at)`

	sqlUpsertPlan = `
		INSERT INTO %s (id, status, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_updated_at = EXCLUDED.last_updated_at`

	sqlUpsertNode = `
		INSERT INTO %s (id, plan_execution_id, parent_id, mode, status, old_retry, interrupt_histories,
			created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			mode = EXCLUDED.mode,
			status = EXCLUDED.status,
			old_retry = EXCLUDED.old_retry,
			last_updated_at = EXCLUDED.last_updated_at`

	sqlSelectNode = `SELECT %s FROM %s WHERE id = $1`

	sqlListNodes = `SELECT %s FROM %s%s ORDER BY created_at, id`

	sqlUpdateStatus = `UPDATE %s SET status = $1, last_updated_at = $2%s RETURNING %s`

	sqlUpdateStatusBulk = `UPDATE %s SET status = $1, last_updated_at = $2%s`

	sqlAppendEffect = `
		UPDATE %s SET interrupt_histories = interrupt_histories || $1::jsonb, last_updated_at = $2
		WHERE id = $3`

	sqlSelectPlan = `SELECT %s FROM %s WHERE id = $1`
)

// Option configures a Store.
type Option func(*Store)

// WithTables overrides the node and plan table names.
func WithTables(nodeTable, planTable string) Option {
	return func(s *Store) {
		s.nodeTable = nodeTable
		s.planTable = planTable
	}
}

// Store implements execution.NodeStore. Plans returns the plan side.
type Store struct {
	client    storage.Client
	nodeTable string
	planTable string
	now       func() time.Time
}

// New creates a store over client.
func New(client storage.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		nodeTable: defaultNodeTable,
		planTable: defaultPlanTable,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates both tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return storage.EnsureSchema(ctx, s.client,
		fmt.Sprintf(sqlCreatePlanTable, s.planTable),
		fmt.Sprintf(sqlCreateNodeTable, s.nodeTable),
		fmt.Sprintf(sqlCreateNodeIndex, s.nodeTable, s.nodeTable),
	)
}

// SavePlan inserts or updates a plan.
func (s *Store) SavePlan(ctx context.Context, p execution.PlanExecution) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if _, err := s.client.ExecContext(ctx, fmt.Sprintf(sqlUpsertPlan, s.planTable),
		p.ID, string(p.Status), p.CreatedAt, now); err != nil {
		return fmt.Errorf("save plan execution: %w", err)
	}
	return nil
}

// SaveNode inserts or updates a node. Its interrupt history is only written
// on insert.
func (s *Store) SaveNode(ctx context.Context, n execution.NodeExecution) error {
	now := s.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	histories := n.InterruptHistories
	if histories == nil {
		histories = []execution.InterruptEffect{}
	}
	raw, err := json.Marshal(histories)
	if err != nil {
		return fmt.Errorf("marshal interrupt histories: %w", err)
	}
	if _, err := s.client.ExecContext(ctx, fmt.Sprintf(sqlUpsertNode, s.nodeTable),
		n.ID, n.PlanExecutionID, n.ParentID, string(n.Mode), string(n.Status), n.OldRetry,
		raw, n.CreatedAt, now); err != nil {
		return fmt.Errorf("save node execution: %w", err)
	}
	return nil
}

// Get implements execution.NodeStore.
func (s *Store) Get(ctx context.Context, id string) (execution.NodeExecution, error) {
	nodes, err := s.queryNodes(ctx, fmt.Sprintf(sqlSelectNode, nodeFields, s.nodeTable), id)
	if err != nil {
		return execution.NodeExecution{}, fmt.Errorf("get node execution: %w", err)
	}
	if len(nodes) == 0 {
		return execution.NodeExecution{}, fmt.Errorf("node %s: %w", id, execution.ErrNodeNotFound)
	}
	return nodes[0], nil
}

// ListByPlan implements execution.NodeStore.
func (s *Store) ListByPlan(ctx context.Context, planExecutionID string,
	includeOldRetries bool) ([]execution.NodeExecution, error) {
	qb := storage.NewWhereBuilder().Eq("plan_execution_id", planExecutionID)
	if !includeOldRetries {
		qb.Raw("old_retry = FALSE")
	}
	nodes, err := s.queryNodes(ctx, fmt.Sprintf(sqlListNodes, nodeFields, s.nodeTable, qb.Where()), qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	return nodes, nil
}

// UpdateStatus implements execution.NodeStore.
func (s *Store) UpdateStatus(ctx context.Context, id string, status execution.Status,
	from ...execution.Status) (execution.NodeExecution, bool, error) {
	qb := storage.NewWhereBuilder(string(status), s.now()).
		Eq("id", id).
		In("status", statusStrings(from))
	nodes, err := s.queryNodes(ctx, fmt.Sprintf(sqlUpdateStatus, s.nodeTable, qb.Where(), nodeFields), qb.Args()...)
	if err != nil {
		return execution.NodeExecution{}, false, fmt.Errorf("update node status: %w", err)
	}
	if len(nodes) > 0 {
		return nodes[0], true, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return execution.NodeExecution{}, false, err
	}
	return current, false, nil
}

// UpdateStatusForIDs implements execution.NodeStore.
func (s *Store) UpdateStatusForIDs(ctx context.Context, planExecutionID string, ids []string,
	status execution.Status, from ...execution.Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	qb := storage.NewWhereBuilder(string(status), s.now()).
		Eq("plan_execution_id", planExecutionID).
		In("id", ids).
		In("status", statusStrings(from))
	res, err := s.client.ExecContext(ctx, fmt.Sprintf(sqlUpdateStatusBulk, s.nodeTable, qb.Where()), qb.Args()...)
	if err != nil {
		return 0, fmt.Errorf("bulk update node status: %w", err)
	}
	return res.RowsAffected()
}

// AddInterruptEffect implements execution.NodeStore.
func (s *Store) AddInterruptEffect(ctx context.Context, id string, effect execution.InterruptEffect) error {
	raw, err := json.Marshal([]execution.InterruptEffect{effect})
	if err != nil {
		return fmt.Errorf("marshal interrupt effect: %w", err)
	}
	res, err := s.client.ExecContext(ctx, fmt.Sprintf(sqlAppendEffect, s.nodeTable), raw, s.now(), id)
	if err != nil {
		return fmt.Errorf("append interrupt effect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append interrupt effect: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", id, execution.ErrNodeNotFound)
	}
	return nil
}

// Plans exposes the plan table as an execution.PlanStore.
func (s *Store) Plans() execution.PlanStore { return planStore{s} }

type planStore struct{ s *Store }

// Get implements execution.PlanStore.
func (p planStore) Get(ctx context.Context, id string) (execution.PlanExecution, error) {
	var (
		plan  execution.PlanExecution
		found bool
	)
	err := p.s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		var status string
		if err := rows.Scan(&plan.ID, &status, &plan.CreatedAt, &plan.LastUpdatedAt); err != nil {
			return fmt.Errorf("scan plan execution: %w", err)
		}
		plan.Status = execution.Status(status)
		found = true
		return nil
	}, fmt.Sprintf(sqlSelectPlan, planFields, p.s.planTable), id)
	if err != nil {
		return execution.PlanExecution{}, fmt.Errorf("get plan execution: %w", err)
	}
	if !found {
		return execution.PlanExecution{}, fmt.Errorf("plan %s: %w", id, execution.ErrPlanNotFound)
	}
	return plan, nil
}

// UpdateStatus implements execution.PlanStore.
func (p planStore) UpdateStatus(ctx context.Context, id string, status execution.Status,
	from ...execution.Status) (bool, error) {
	qb := storage.NewWhereBuilder(string(status), p.s.now()).
		Eq("id", id).
		In("status", statusStrings(from))
	res, err := p.s.client.ExecContext(ctx,
		fmt.Sprintf(sqlUpdateStatusBulk, p.s.planTable, qb.Where()), qb.Args()...)
	if err != nil {
		return false, fmt.Errorf("update plan status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update plan status: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish a filtered miss from a missing plan.
	if _, err := p.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]execution.NodeExecution, error) {
	var out []execution.NodeExecution
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				n                    execution.NodeExecution
				mode, status         string
				histories            []byte
				createdAt, updatedAt time.Time
			)
			if err := rows.Scan(&n.ID, &n.PlanExecutionID, &n.ParentID, &mode, &status, &n.OldRetry,
				&histories, &createdAt, &updatedAt); err != nil {
				return fmt.Errorf("scan node execution: %w", err)
			}
			n.Mode = execution.Mode(mode)
			n.Status = execution.Status(status)
			n.CreatedAt = createdAt.UTC()
			n.LastUpdatedAt = updatedAt.UTC()
			if len(histories) > 0 {
				if err := json.Unmarshal(histories, &n.InterruptHistories); err != nil {
					return fmt.Errorf("unmarshal interrupt histories: %w", err)
				}
			}
			out = append(out, n)
		}
		return nil
	}, query, args...)
	return out, err
}

func statusStrings(statuses []execution.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
