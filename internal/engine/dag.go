package engine

import (
	"sort"
	"strings"

	"github.com/veloflow/veloflow/pkg/schema"
)

// pipelineWaves groups a pipeline group's steps into dependency waves: every
// step in a wave has all of its depends_on satisfied by earlier waves. Uses
// Kahn's algorithm; a cycle leaves steps unleveled and is reported with the
// stuck step names.
func pipelineWaves(group *schema.ParallelGroupSpec) ([][]string, error) {
	edges := make(map[string][]string, len(group.Steps))
	reverse := make(map[string][]string, len(group.Steps))
	inDegree := make(map[string]int, len(group.Steps))

	for i := range group.Steps {
		step := &group.Steps[i]
		edges[step.Name] = append([]string(nil), step.DependsOn...)
		inDegree[step.Name] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			reverse[dep] = append(reverse[dep], step.Name)
		}
	}

	queue := make([]string, 0, len(group.Steps))
	for i := range group.Steps {
		if inDegree[group.Steps[i].Name] == 0 {
			queue = append(queue, group.Steps[i].Name)
		}
	}
	sort.Strings(queue)

	sorted := make([]string, 0, len(group.Steps))
	depth := make(map[string]int, len(group.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		maxDep := -1
		for _, dep := range edges[node] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[node] = maxDep + 1

		dependents := append([]string(nil), reverse[node]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(group.Steps) {
		stuck := make([]string, 0)
		leveled := make(map[string]bool, len(sorted))
		for _, name := range sorted {
			leveled[name] = true
		}
		for i := range group.Steps {
			if !leveled[group.Steps[i].Name] {
				stuck = append(stuck, group.Steps[i].Name)
			}
		}
		sort.Strings(stuck)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"pipeline group %s has a dependency cycle involving: %s",
			group.Name, strings.Join(stuck, ", ")).
			WithDetails(map[string]any{"stuck_steps": stuck})
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	// Waves hold declaration order within a level, not sorted order, so
	// merge-back stays deterministic by declaration.
	waves := make([][]string, maxLevel+1)
	for i := range group.Steps {
		name := group.Steps[i].Name
		waves[depth[name]] = append(waves[depth[name]], name)
	}
	return waves, nil
}
