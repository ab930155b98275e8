package app

import "context"

// descendantClosure returns roots plus every item reachable below them by parent links.
// Roots come first in the order given; duplicates are dropped.
func descendantClosure(ctx context.Context, repo Repository, roots []string) ([]string, error) {
	seen := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		children, err := repo.ListChildIDs(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, childID := range children {
			if _, ok := seen[childID]; ok {
				continue
			}
			seen[childID] = struct{}{}
			out = append(out, childID)
			queue = append(queue, childID)
		}
	}
	return out, nil
}

// dependencyReachable reports whether target can be reached from start by following
// depends_on edges forward. Adding the edge target->start closes a cycle exactly when this holds.
func dependencyReachable(ctx context.Context, repo Repository, start, target string) (bool, error) {
	if start == target {
		return true, nil
	}
	seen := map[string]struct{}{start: {}}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next, err := repo.ListDependsOnIDs(ctx, current)
		if err != nil {
			return false, err
		}
		for _, id := range next {
			if id == target {
				return true, nil
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			queue = append(queue, id)
		}
	}
	return false, nil
}
