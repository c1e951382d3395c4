//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

package execution

import "sort"

// Tree is an arena over the nodes of one plan keyed by id.
type Tree struct {
	nodes    map[string]NodeExecution
	children map[string][]string
	order    []string
}

// NewTree indexes nodes. Nodes whose parent is not in the set are treated as
// roots.
func NewTree(nodes []NodeExecution) *Tree {
	t := &Tree{
		nodes:    make(map[string]NodeExecution, len(nodes)),
		children: make(map[string][]string),
		order:    make([]string, 0, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := t.nodes[n.ID]; dup {
			continue
		}
		t.nodes[n.ID] = n
		t.order = append(t.order, n.ID)
	}
	for _, id := range t.order {
		parent := t.nodes[id].ParentID
		if parent == "" || parent == id {
			continue
		}
		if _, ok := t.nodes[parent]; ok {
			t.children[parent] = append(t.children[parent], id)
		}
	}
	return t
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.order) }

// Node returns a node by id.
func (t *Tree) Node(id string) (NodeExecution, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (t *Tree) Nodes() []NodeExecution {
	out := make([]NodeExecution, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Children returns the direct children of id.
func (t *Tree) Children(id string) []NodeExecution {
	ids := t.children[id]
	out := make([]NodeExecution, 0, len(ids))
	for _, c := range ids {
		out = append(out, t.nodes[c])
	}
	return out
}

// Descendants returns every node below id, breadth first. A visited set guards
// against malformed parent links.
func (t *Tree) Descendants(id string) []NodeExecution {
	var out []NodeExecution
	visited := map[string]struct{}{id: {}}
	queue := append([]string{}, t.children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, t.nodes[cur])
		queue = append(queue, t.children[cur]...)
	}
	return out
}

// IsDescendant reports whether candidate sits below ancestor.
func (t *Tree) IsDescendant(ancestor, candidate string) bool {
	visited := map[string]struct{}{}
	for cur := t.nodes[candidate].ParentID; cur != ""; cur = t.nodes[cur].ParentID {
		if cur == ancestor {
			return true
		}
		if _, seen := visited[cur]; seen {
			return false
		}
		visited[cur] = struct{}{}
		if _, ok := t.nodes[cur]; !ok {
			return false
		}
	}
	return false
}

// InScope reports whether candidate is scope itself or one of its
// descendants. An empty scope covers the whole plan.
func (t *Tree) InScope(scope, candidate string) bool {
	return scope == "" || scope == candidate || t.IsDescendant(scope, candidate)
}

// Leaves returns the nodes whose mode is LEAF.
func (t *Tree) Leaves() []NodeExecution {
	var out []NodeExecution
	for _, id := range t.order {
		if t.nodes[id].IsLeaf() {
			out = append(out, t.nodes[id])
		}
	}
	return out
}

// Parents returns the distinct parents of nodes that exist in the tree,
// sorted by id so walks are deterministic.
func (t *Tree) Parents(nodes []NodeExecution) []NodeExecution {
	seen := map[string]struct{}{}
	var out []NodeExecution
	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}
		p, ok := t.nodes[n.ParentID]
		if !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Frontier returns the nodes without children.
func (t *Tree) Frontier() []NodeExecution {
	var out []NodeExecution
	for _, id := range t.order {
		if len(t.children[id]) == 0 {
			out = append(out, t.nodes[id])
		}
	}
	return out
}

// PlanStatus computes the plan status from the frontier, skipping the ids in
// exclude. A group node above paused leaves therefore does not hide the pause.
func (t *Tree) PlanStatus(exclude ...string) Status {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var statuses []Status
	for _, n := range t.Frontier() {
		if _, ok := skip[n.ID]; ok {
			continue
		}
		statuses = append(statuses, n.Status)
	}
	return CalculateStatus(statuses)
}

// Set replaces a node in the arena after a status change.
func (t *Tree) Set(n NodeExecution) {
	if _, ok := t.nodes[n.ID]; !ok {
		return
	}
	t.nodes[n.ID] = n
}
