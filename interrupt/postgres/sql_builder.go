//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package postgres

import (
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	storage "trpc.group/trpc-go/trpc-interrupt-go/storage/postgres"
)

// applyFilter translates an interrupt filter into WHERE conditions.
func applyFilter(b *storage.WhereBuilder, f interrupt.Filter) {
	if f.PlanExecutionID != "" {
		b.Eq(fieldPlanExecutionID, f.PlanExecutionID)
	}
	if f.NodeExecutionID != "" {
		b.Eq(fieldNodeExecutionID, f.NodeExecutionID)
	}
	if f.PlanScoped {
		b.Raw(fieldNodeExecutionID + " = ''")
	}
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	b.In(fieldType, types)
	b.In(fieldState, statesToStrings(f.States))
	if !f.CreatedBefore.IsZero() {
		b.LessThan(fieldCreatedAt, f.CreatedBefore)
	}
}

func statesToStrings(states []interrupt.State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
