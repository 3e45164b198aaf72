package model

// resolveNavigations binds navigation targets and pairs inverses. Explicit
// inverses win; otherwise a navigation is paired with the single navigation
// on its target that points back at the declaring type.
func resolveNavigations(m *Model) []*Violation {
	var violations []*Violation

	for _, t := range m.order {
		for _, nav := range t.Navigations() {
			if nav.Target != nil {
				continue
			}
			target := m.Types[nav.targetName]
			if target == nil {
				violations = append(violations, violationNavigationTargetMissing(nav))
				continue
			}
			nav.Target = target
		}
	}
	if len(violations) > 0 {
		return violations
	}

	// 1) explicit inverses
	for _, t := range m.order {
		for _, nav := range t.Navigations() {
			if nav.inverseName == "" {
				continue
			}
			inv := nav.Target.Navigation(nav.inverseName)
			if inv == nil {
				violations = append(violations, violationUnknownInverse(nav.inverseName, nav))
				continue
			}
			if inv.Target != nav.Entity {
				violations = append(violations, violationInverseTargetMismatch(nav, inv))
				continue
			}
			if inv.inverseName != "" && inv.inverseName != nav.Name {
				violations = append(violations, violationAsymmetricInverse(nav, inv, inv.inverseName))
				continue
			}
			nav.Inverse = inv
			inv.Inverse = nav
		}
	}

	// 2) implicit inverses, paired only when each side is the other's single
	// candidate
	candidates := make(map[*Navigation][]*Navigation)
	var unpaired []*Navigation
	for _, t := range m.order {
		for _, nav := range t.Navigations() {
			if nav.Inverse != nil || nav.inverseName != "" {
				continue
			}
			unpaired = append(unpaired, nav)
			for _, other := range nav.Target.Navigations() {
				if other == nav || other.Target != nav.Entity || other.Inverse != nil {
					continue
				}
				if other.inverseName != "" && other.inverseName != nav.Name {
					continue
				}
				candidates[nav] = append(candidates[nav], other)
			}
		}
	}
	for _, nav := range unpaired {
		if nav.Inverse != nil || len(candidates[nav]) != 1 {
			continue
		}
		other := candidates[nav][0]
		if back := candidates[other]; len(back) != 1 || back[0] != nav {
			continue
		}
		nav.Inverse = other
		other.Inverse = nav
	}
	return violations
}
