// package tasks implements DAG execution for warehouse pipeline operators.
//
// The core abstraction is Operator, a unit of work with an id and an Execute entry point.
// Operations emit progress updates via channels for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/shared"
)

// Operator is a single task in a [DAG].
type Operator interface {
	// ID returns the task id, unique within a DAG.
	ID() string

	// Execute performs the task. A returned error fails the attempt.
	Execute(ctx context.Context, tc *TaskContext) error
}

// TaskContext carries per-attempt information into [Operator.Execute].
type TaskContext struct {
	RunID         string      // Journal run id
	DAGID         string      // Owning DAG id
	TaskID        string      // Operator id
	ExecutionDate time.Time   // Logical date the run covers
	Attempt       int         // 1-based attempt number
	Logger        *log.Logger // Logger scoped to the task
}

// DAG is a directed acyclic graph of operators.
type DAG struct {
	id         string
	order      []string
	operators  map[string]Operator
	downstream map[string][]string
	upstream   map[string][]string
}

// NewDAG creates an empty [DAG].
func NewDAG(id string) *DAG {
	return &DAG{
		id:         id,
		operators:  make(map[string]Operator),
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
	}
}

// ID returns the DAG id.
func (d *DAG) ID() string { return d.id }

// Len returns the number of tasks.
func (d *DAG) Len() int { return len(d.order) }

// Add registers operators. Ids must be unique.
func (d *DAG) Add(ops ...Operator) error {
	for _, op := range ops {
		id := op.ID()
		if id == "" {
			return fmt.Errorf("%w: operator id is empty", shared.ErrInvalidArgument)
		}
		if _, exists := d.operators[id]; exists {
			return fmt.Errorf("%w: duplicate task id %q", shared.ErrInvalidArgument, id)
		}
		d.operators[id] = op
		d.order = append(d.order, id)
	}
	return nil
}

// Task returns the operator registered under id.
func (d *DAG) Task(id string) (Operator, bool) {
	op, ok := d.operators[id]
	return op, ok
}

// Tasks returns operator ids in registration order.
func (d *DAG) Tasks() []string {
	return append([]string(nil), d.order...)
}

// Upstream returns the direct upstream ids of a task.
func (d *DAG) Upstream(id string) []string {
	return append([]string(nil), d.upstream[id]...)
}

// Downstream returns the direct downstream ids of a task.
func (d *DAG) Downstream(id string) []string {
	return append([]string(nil), d.downstream[id]...)
}

// SetDownstream makes every id in to depend on from.
func (d *DAG) SetDownstream(from string, to ...string) error {
	if _, ok := d.operators[from]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, from)
	}
	for _, t := range to {
		if _, ok := d.operators[t]; !ok {
			return fmt.Errorf("%w: %s", shared.ErrUnknownTask, t)
		}
		if t == from {
			return fmt.Errorf("%w: %s depends on itself", shared.ErrCycleDetected, t)
		}
		if contains(d.downstream[from], t) {
			continue
		}
		d.downstream[from] = append(d.downstream[from], t)
		d.upstream[t] = append(d.upstream[t], from)
	}
	return nil
}

// Chain wires each id downstream of the one before it.
func (d *DAG) Chain(ids ...string) error {
	for i := 1; i < len(ids); i++ {
		if err := d.SetDownstream(ids[i-1], ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// Layers groups task ids so that every task appears after all of its upstream tasks.
//
// Tasks in the same layer are independent. Ids within a layer keep registration order.
func (d *DAG) Layers() ([][]string, error) {
	position := make(map[string]int, len(d.order))
	indegree := make(map[string]int, len(d.order))
	for i, id := range d.order {
		position[id] = i
		indegree[id] = len(d.upstream[id])
	}

	var current []string
	for _, id := range d.order {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	seen := 0
	for len(current) > 0 {
		layers = append(layers, current)
		seen += len(current)

		var next []string
		for _, id := range current {
			for _, down := range d.downstream[id] {
				indegree[down]--
				if indegree[down] == 0 {
					next = append(next, down)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		current = next
	}

	if seen != len(d.order) {
		var stuck []string
		for _, id := range d.order {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrCycleDetected, stuck)
	}
	return layers, nil
}

// TopologicalOrder flattens [DAG.Layers].
func (d *DAG) TopologicalOrder() ([]string, error) {
	layers, err := d.Layers()
	if err != nil {
		return nil, err
	}
	var order []string
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
