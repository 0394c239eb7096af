package config

import (
	"cmp"
	"slices"
)

// graph is a service dependency graph. Edges point from a service to the
// services it needs running first.
type graph struct {
	nodes map[ServiceID][]ServiceID
}

func newGraph() *graph {
	return &graph{nodes: make(map[ServiceID][]ServiceID)}
}

func (g *graph) addNode(id ServiceID, deps ...ServiceID) {
	g.nodes[id] = deps
}

func compareServiceIDs(a, b ServiceID) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// topologicalSort orders services so that every service comes after its
// dependencies. Dependencies that were never added as nodes are still
// included. Ties are broken by service type, so the order is stable.
func (g *graph) topologicalSort() []ServiceID {
	visited := make(map[ServiceID]bool)
	stack := []ServiceID{}

	var visit func(ServiceID)

	visit = func(service ServiceID) {
		if visited[service] {
			return
		}
		visited[service] = true

		deps := slices.Clone(g.nodes[service])
		slices.SortFunc(deps, compareServiceIDs)

		for _, dep := range deps {
			visit(dep)
		}

		stack = append(stack, service)
	}

	ids := make([]ServiceID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareServiceIDs)

	for _, id := range ids {
		visit(id)
	}

	return stack
}
