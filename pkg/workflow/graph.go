package workflow

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/dukex/gale/pkg/models"
)

// jobWaves groups job IDs into dependency waves. A job lands in the first
// wave after all of its needs. Declaration order is kept within a wave.
func jobWaves(workflow *models.Workflow) ([][]string, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, job := range workflow.Jobs {
		if err := g.AddVertex(job.ID); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}

	for _, job := range workflow.Jobs {
		for _, need := range job.Needs {
			err := g.AddEdge(need, job.ID)
			if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("job %s needs %s: %w", job.ID, need, err)
			}
		}
	}

	predecessors, err := g.PredecessorMap()
	if err != nil {
		return nil, fmt.Errorf("dependency map: %w", err)
	}

	order := workflow.JobIDs()

	remaining := make(map[string]struct{}, len(order))
	for _, id := range order {
		remaining[id] = struct{}{}
	}

	var waves [][]string

	for len(remaining) > 0 {
		var wave []string

		for _, id := range order {
			if _, pending := remaining[id]; !pending {
				continue
			}

			ready := true

			for pred := range predecessors[id] {
				if _, blocked := remaining[pred]; blocked {
					ready = false

					break
				}
			}

			if ready {
				wave = append(wave, id)
			}
		}

		if len(wave) == 0 {
			return nil, errors.New("jobs form a dependency cycle")
		}

		for _, id := range wave {
			delete(remaining, id)
		}

		waves = append(waves, wave)
	}

	return waves, nil
}
