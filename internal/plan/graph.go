package plan

import (
	"fmt"
	"strings"
)

// graph orders plan tasks by their depends_on edges.
type graph struct {
	order    []string            // insertion order, used to break ties
	children map[string][]string // dependency -> dependents
	parents  map[string][]string // dependent -> dependencies
}

func newGraph() *graph {
	return &graph{
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

func (g *graph) addNode(id string) {
	if _, exists := g.parents[id]; exists {
		return
	}
	g.order = append(g.order, id)
	g.parents[id] = nil
}

// addEdge records that child runs after parent.
func (g *graph) addEdge(parent, child string) error {
	if _, exists := g.parents[parent]; !exists {
		return fmt.Errorf("task %q depends on unknown task %q", child, parent)
	}
	if _, exists := g.parents[child]; !exists {
		return fmt.Errorf("unknown task %q", child)
	}
	if parent == child {
		return fmt.Errorf("task %q depends on itself", child)
	}
	for _, p := range g.parents[child] {
		if p == parent {
			return nil
		}
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
	return nil
}

// cycle returns one dependency cycle, or nil.
func (g *graph) cycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, child := range g.children[id] {
			switch state[child] {
			case visiting:
				for i, s := range stack {
					if s == child {
						return append(append([]string{}, stack[i:]...), child)
					}
				}
			case unvisited:
				if c := visit(child); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// levels groups tasks so that every task's dependencies sit in an earlier
// level. Within a level tasks keep their plan order.
func (g *graph) levels() ([][]string, error) {
	if c := g.cycle(); c != nil {
		return nil, fmt.Errorf("dependency cycle: %s", strings.Join(c, " -> "))
	}

	level := make(map[string]int, len(g.order))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[id] {
			l = max(l, depth(p)+1)
		}
		level[id] = l
		return l
	}

	var out [][]string
	for _, id := range g.order {
		l := depth(id)
		for len(out) <= l {
			out = append(out, nil)
		}
		out[l] = append(out[l], id)
	}
	return out, nil
}
