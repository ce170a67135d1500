package graph

import "sort"

// Levels orders types so every type comes after the types it references.
// deps maps a type to the types it references (A -> B means A references B).
// Types within a level have no dependency on each other and are sorted by
// name. When nothing is ready, the lexically smallest type of a cycle that
// references nothing outside itself is released on its own level, so types
// that merely depend on a cycle still wait for it.
func Levels(deps map[string][]string, extra ...string) [][]string {
	remaining := map[string]map[string]bool{}
	add := func(t string) {
		if _, ok := remaining[t]; !ok {
			remaining[t] = map[string]bool{}
		}
	}
	for from, tos := range deps {
		add(from)
		for _, to := range tos {
			add(to)
			if to != from {
				remaining[from][to] = true
			}
		}
	}
	for _, t := range extra {
		add(t)
	}

	var levels [][]string
	for len(remaining) > 0 {
		var ready []string
		for t, pending := range remaining {
			if len(pending) == 0 {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			ready = []string{cycleHead(remaining)}
		}
		sort.Strings(ready)

		for _, t := range ready {
			delete(remaining, t)
		}
		for _, pending := range remaining {
			for _, t := range ready {
				delete(pending, t)
			}
		}
		levels = append(levels, ready)
	}
	return levels
}

// Order flattens Levels.
func Order(deps map[string][]string, extra ...string) []string {
	var order []string
	for _, level := range Levels(deps, extra...) {
		order = append(order, level...)
	}
	return order
}

// cycleHead returns the smallest type whose reachable types all reach it
// back, i.e. the smallest member of a terminal strongly connected component.
// Such a component always exists when no type is ready.
func cycleHead(remaining map[string]map[string]bool) string {
	reach := make(map[string]map[string]bool, len(remaining))
	for t := range remaining {
		reach[t] = reachable(remaining, t)
	}

	var head string
	for t, from := range reach {
		terminal := true
		for u := range from {
			if !reach[u][t] {
				terminal = false
				break
			}
		}
		if terminal && (head == "" || t < head) {
			head = t
		}
	}
	return head
}

func reachable(remaining map[string]map[string]bool, start string) map[string]bool {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range remaining[t] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}
