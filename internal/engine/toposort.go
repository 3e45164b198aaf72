package engine

import (
	"strings"

	"github.com/hanpama/computed/internal/model"
)

// TopoSort orders members so that each comes after every computed member
// it reads, keeping registration order otherwise. It also records each
// member's dependents. A cycle is reported as a model.ValidationError.
func TopoSort(members []Member) ([]Member, error) {
	byProp := make(map[*model.Property]Member, len(members))
	for _, m := range members {
		byProp[m.Property()] = m
	}
	deps := make(map[Member][]Member, len(members))
	dependents := make(map[Member][]Member, len(members))
	for _, m := range members {
		for _, read := range m.Observes() {
			prop, ok := read.(*model.Property)
			if !ok {
				continue
			}
			d, ok := byProp[prop]
			if !ok {
				continue
			}
			deps[m] = append(deps[m], d)
			dependents[d] = append(dependents[d], m)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Member]int, len(members))
	var (
		ordered    []Member
		path       []Member
		violations model.ValidationError
	)
	var visit func(m Member)
	visit = func(m Member) {
		switch state[m] {
		case done:
			return
		case visiting:
			violations = append(violations, violationCycle(path, m))
			return
		}
		state[m] = visiting
		path = append(path, m)
		for _, d := range deps[m] {
			visit(d)
		}
		path = path[:len(path)-1]
		state[m] = done
		ordered = append(ordered, m)
	}
	for _, m := range members {
		visit(m)
	}
	if len(violations) > 0 {
		return nil, violations
	}
	for _, m := range members {
		m.setDependents(dependents[m])
	}
	return ordered, nil
}

func violationCycle(path []Member, back Member) *model.Violation {
	start := 0
	for i, m := range path {
		if m == back {
			start = i
			break
		}
	}
	var names []string
	for _, m := range path[start:] {
		names = append(names, m.String())
	}
	names = append(names, back.String())
	return model.NewViolation("Computed members depend on each other in a cycle: %s", strings.Join(names, " -> "))
}
