//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres stores interrupts in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	storage "trpc.group/trpc-go/trpc-interrupt-go/storage/postgres"
)

var _ interrupt.Store = (*Store)(nil)

const (
	fieldID              = "id"
	fieldPlanExecutionID = "plan_execution_id"
	fieldNodeExecutionID = "node_execution_id"
	fieldType            = "type"
	fieldState           = "state"
	fieldConfig          = "config"
	fieldMetadata        = "metadata"
	fieldFromMonitor     = "from_monitor"
	fieldCreatedAt       = "created_at"
	fieldLastUpdatedAt   = "last_updated_at"

	defaultTable = "interrupts"

	uniqueViolation = "23505"
)

var selectFields = fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s, %s, %s",
	fieldID, fieldPlanExecutionID, fieldNodeExecutionID, fieldType, fieldState,
	fieldConfig, fieldMetadata, fieldFromMonitor, fieldCreatedAt, fieldLastUpdatedAt)

const (
	sqlCreateTable = `
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			plan_execution_id TEXT NOT NULL,
			node_execution_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			config JSONB NOT NULL,
			metadata JSONB,
			from_monitor BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated_at TIMESTAMPTZ NOT NULL
		)`

	sqlCreatePlanIndex = `
		CREATE INDEX IF NOT EXISTS %s_plan_state_type_idx ON %s (plan_execution_id, state, type)`

	sqlCreateNodeIndex = `
		CREATE INDEX IF NOT EXISTS %s_plan_node_state_idx ON %s (plan_execution_id, node_execution_id, state)`

	sqlInsert = `
		INSERT INTO %s (id, plan_execution_id, node_execution_id, type, state, config, metadata,
			from_monitor, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	sqlSelectByID = `SELECT %s FROM %s WHERE id = $1`

	sqlUpdateState = `UPDATE %s SET state = $1, from_monitor = $2, last_updated_at = $3%s RETURNING %s`

	sqlSelect = `SELECT %s FROM %s%s ORDER BY created_at DESC, seq DESC`

	sqlDelete = `DELETE FROM %s%s`
)

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// Store implements interrupt.Store on a postgres client.
type Store struct {
	client storage.Client
	table  string
	now    func() time.Time
}

// New creates a store. Call EnsureSchema once before use on a fresh
// database.
func New(client storage.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		table:  defaultTable,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the DDL of the interrupt table and its indexes.
func (s *Store) Schema() []string {
	return []string{
		fmt.Sprintf(sqlCreateTable, s.table),
		fmt.Sprintf(sqlCreatePlanIndex, s.table, s.table),
		fmt.Sprintf(sqlCreateNodeIndex, s.table, s.table),
	}
}

// EnsureSchema creates the table and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return storage.EnsureSchema(ctx, s.client, s.Schema()...)
}

// Create implements interrupt.Store.
func (s *Store) Create(ctx context.Context, i interrupt.Interrupt) error {
	config, err := json.Marshal(i.Config)
	if err != nil {
		return fmt.Errorf("marshal interrupt config: %w", err)
	}
	var metadata []byte
	if i.Metadata != nil {
		if metadata, err = json.Marshal(i.Metadata); err != nil {
			return fmt.Errorf("marshal interrupt metadata: %w", err)
		}
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = s.now()
	}
	if i.LastUpdatedAt.IsZero() {
		i.LastUpdatedAt = i.CreatedAt
	}
	_, err = s.client.ExecContext(ctx, fmt.Sprintf(sqlInsert, s.table),
		i.ID, i.PlanExecutionID, i.NodeExecutionID, string(i.Type), string(i.State),
		config, metadata, i.FromMonitor, i.CreatedAt, i.LastUpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("interrupt %s already exists", i.ID)
		}
		return fmt.Errorf("insert interrupt: %w", err)
	}
	return nil
}

// Get implements interrupt.Store.
func (s *Store) Get(ctx context.Context, id string) (interrupt.Interrupt, error) {
	found, err := s.queryOne(ctx, fmt.Sprintf(sqlSelectByID, selectFields, s.table), id)
	if err != nil {
		return interrupt.Interrupt{}, fmt.Errorf("get interrupt: %w", err)
	}
	if found == nil {
		return interrupt.Interrupt{}, fmt.Errorf("interrupt %s: %w", id, interrupt.ErrInterruptNotFound)
	}
	return *found, nil
}

// UpdateState implements interrupt.Store. The state filter is part of the
// UPDATE so concurrent writers cannot both move the same interrupt.
func (s *Store) UpdateState(ctx context.Context, id string, state interrupt.State, fromMonitor bool,
	from ...interrupt.State) (interrupt.Interrupt, bool, error) {
	qb := storage.NewWhereBuilder(string(state), fromMonitor, s.now()).
		Eq(fieldID, id).
		In(fieldState, statesToStrings(from))

	query := fmt.Sprintf(sqlUpdateState, s.table, qb.Where(), selectFields)
	updated, err := s.queryOne(ctx, query, qb.Args()...)
	if err != nil {
		return interrupt.Interrupt{}, false, fmt.Errorf("update interrupt state: %w", err)
	}
	if updated != nil {
		return *updated, true, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return interrupt.Interrupt{}, false, err
	}
	return current, false, nil
}

// List implements interrupt.Store.
func (s *Store) List(ctx context.Context, f interrupt.Filter) ([]interrupt.Interrupt, error) {
	qb := storage.NewWhereBuilder()
	applyFilter(qb, f)
	query := fmt.Sprintf(sqlSelect, selectFields, s.table, qb.Where())

	var out []interrupt.Interrupt
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			i, err := scanInterrupt(rows)
			if err != nil {
				return err
			}
			out = append(out, i)
		}
		return nil
	}, query, qb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list interrupts: %w", err)
	}
	return out, nil
}

// DeleteByPlans implements interrupt.Store.
func (s *Store) DeleteByPlans(ctx context.Context, planExecutionIDs []string) (int64, error) {
	if len(planExecutionIDs) == 0 {
		return 0, nil
	}
	qb := storage.NewWhereBuilder().In(fieldPlanExecutionID, planExecutionIDs)
	res, err := s.client.ExecContext(ctx, fmt.Sprintf(sqlDelete, s.table, qb.Where()), qb.Args()...)
	if err != nil {
		return 0, fmt.Errorf("delete interrupts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*interrupt.Interrupt, error) {
	var found *interrupt.Interrupt
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		i, err := scanInterrupt(rows)
		if err != nil {
			return err
		}
		found = &i
		return nil
	}, query, args...)
	return found, err
}

func scanInterrupt(rows *sql.Rows) (interrupt.Interrupt, error) {
	var (
		i             interrupt.Interrupt
		typ, state    string
		config, meta  []byte
		createdAt     time.Time
		lastUpdatedAt time.Time
	)
	if err := rows.Scan(&i.ID, &i.PlanExecutionID, &i.NodeExecutionID, &typ, &state,
		&config, &meta, &i.FromMonitor, &createdAt, &lastUpdatedAt); err != nil {
		return interrupt.Interrupt{}, fmt.Errorf("scan interrupt: %w", err)
	}
	i.Type = interrupt.Type(typ)
	i.State = interrupt.State(state)
	i.CreatedAt = createdAt.UTC()
	i.LastUpdatedAt = lastUpdatedAt.UTC()
	if len(config) > 0 {
		if err := json.Unmarshal(config, &i.Config); err != nil {
			return interrupt.Interrupt{}, fmt.Errorf("unmarshal interrupt config: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &i.Metadata); err != nil {
			return interrupt.Interrupt{}, fmt.Errorf("unmarshal interrupt metadata: %w", err)
		}
	}
	return i, nil
}
