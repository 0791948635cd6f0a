package batch

import (
	"fmt"

	"github.com/apifoundry/gateway/core"
)

// plannedOperation is one batch operation after id defaulting, with its
// dependency edges already resolved to concrete operation ids.
type plannedOperation struct {
	spec core.OperationSpec
	deps []string
}

// plan assigns default ids, validates every depends_on/$ref target exists,
// and returns operations in dependency order via Kahn's algorithm (spec §3,
// §4.7). A cycle — including a $ref cycle the author never declared with an
// explicit depends_on — is reported as a BadRequest naming the ids involved.
func plan(operations []core.OperationSpec) ([]plannedOperation, error) {
	specs := make([]core.OperationSpec, len(operations))
	copy(specs, operations)

	ids := make(map[string]int, len(specs))
	for i := range specs {
		if specs[i].ID == "" {
			specs[i].ID = fmt.Sprintf("op_%d", i)
		}
		if _, dup := ids[specs[i].ID]; dup {
			return nil, core.NewError(core.KindBadRequest, "batch: duplicate operation id %q", specs[i].ID)
		}
		ids[specs[i].ID] = i
	}

	planned := make([]plannedOperation, len(specs))
	for i, spec := range specs {
		depSet := map[string]bool{}
		for _, dep := range spec.DependsOn {
			depSet[dep] = true
		}
		for _, id := range referencedOperationIDs(spec.StoreParams) {
			depSet[id] = true
		}
		for _, id := range referencedOperationIDs(asInterfaceMap(spec.QueryParams)) {
			depSet[id] = true
		}
		deps := make([]string, 0, len(depSet))
		for dep := range depSet {
			if _, ok := ids[dep]; !ok {
				return nil, core.NewError(core.KindBadRequest, "batch: operation %q depends on unknown operation %q", spec.ID, dep)
			}
			deps = append(deps, dep)
		}
		planned[i] = plannedOperation{spec: spec, deps: deps}
	}

	return topoSort(planned)
}

func asInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// topoSort orders planned by Kahn's algorithm: repeatedly emit any operation
// whose dependencies have all already been emitted. Ties are broken by
// original input order so a batch with no dependencies at all runs exactly
// in the order it was submitted.
func topoSort(planned []plannedOperation) ([]plannedOperation, error) {
	byID := make(map[string]*plannedOperation, len(planned))
	indegree := make(map[string]int, len(planned))
	dependents := make(map[string][]string, len(planned))
	order := make([]string, len(planned))

	for i := range planned {
		id := planned[i].spec.ID
		byID[id] = &planned[i]
		order[i] = id
		indegree[id] = len(planned[i].deps)
		for _, dep := range planned[i].deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]plannedOperation, 0, len(planned))
	emitted := make(map[string]bool, len(planned))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, *byID[id])
		emitted[id] = true
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) != len(planned) {
		var stuck []string
		for _, id := range order {
			if !emitted[id] {
				stuck = append(stuck, id)
			}
		}
		return nil, core.NewError(core.KindBadRequest, "batch: dependency cycle among operations %v", stuck)
	}
	return result, nil
}
