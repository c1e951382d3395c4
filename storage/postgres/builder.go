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
	"fmt"
	"strings"
)

// WhereBuilder accumulates AND-joined conditions with positional arguments.
// Field names are trusted; values always go through placeholders.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder starts a builder whose first placeholders are taken by
// leading, typically the SET values of an UPDATE.
func NewWhereBuilder(leading ...any) *WhereBuilder {
	return &WhereBuilder{
		args:     append([]any{}, leading...),
		argIndex: len(leading) + 1,
	}
}

// Eq adds field = value.
func (b *WhereBuilder) Eq(field string, value any) *WhereBuilder {
	return b.compare(field, "=", value)
}

// LessThan adds field < value.
func (b *WhereBuilder) LessThan(field string, value any) *WhereBuilder {
	return b.compare(field, "<", value)
}

// Raw adds a condition without arguments.
func (b *WhereBuilder) Raw(cond string) *WhereBuilder {
	b.conditions = append(b.conditions, cond)
	return b
}

// In adds field IN (...) with one placeholder per value. Empty values add
// nothing.
func (b *WhereBuilder) In(field string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return b
	}
	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		placeholders = append(placeholders, b.next(v))
	}
	b.conditions = append(b.conditions, fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", ")))
	return b
}

// Where renders the clause with a leading space, or nothing when empty.
func (b *WhereBuilder) Where() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

// Args returns the leading arguments followed by the condition arguments.
func (b *WhereBuilder) Args() []any { return b.args }

func (b *WhereBuilder) compare(field, op string, value any) *WhereBuilder {
	b.conditions = append(b.conditions, fmt.Sprintf("%s %s %s", field, op, b.next(value)))
	return b
}

func (b *WhereBuilder) next(value any) string {
	p := fmt.Sprintf("$%d", b.argIndex)
	b.args = append(b.args, value)
	b.argIndex++
	return p
}
