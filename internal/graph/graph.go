// Package graph holds the task graph handed to the executor for one
// scheduling round.
//
// A TaskGraph is a plain value: the builder allocates a fresh one per round
// and passes ownership to the executor. Nothing in it is reused across
// rounds.
package graph

import (
	"errors"
	"fmt"
	"math"

	"github.com/vk/rastersched/internal/task"
)

// Priority orders runnable nodes. Lower values are more urgent.
type Priority uint32

const (
	// RasterTaskPriorityBase is assigned to the first graph task of a round.
	RasterTaskPriorityBase Priority = 1
	// RequiredForActivationFinishedPriority is reserved for the activation sentinel.
	RequiredForActivationFinishedPriority Priority = math.MaxUint32 - 1
	// AllFinishedPriority is reserved for the all-finished sentinel.
	AllFinishedPriority Priority = math.MaxUint32
)

var (
	// ErrUnknownNode is returned when an edge references a task that has no node.
	ErrUnknownNode = errors.New("edge references a task without a node")
	// ErrDuplicateNode is returned when a task is inserted twice.
	ErrDuplicateNode = errors.New("task inserted twice")
	// ErrDependencyCount is returned when a node's count disagrees with its edges.
	ErrDependencyCount = errors.New("dependency count does not match edges")
	// ErrCycle is returned when the edges form a cycle.
	ErrCycle = errors.New("cycle detected")
	// ErrUnknownDependency is returned when a task depends on a task that is
	// neither part of the round nor already completed.
	ErrUnknownDependency = errors.New("dependency is not part of the round")
	// ErrGPUDependency is returned when a GPU-path task takes part in a
	// dependency relation.
	ErrGPUDependency = errors.New("gpu-path tasks cannot have or be dependencies")
)

// Node is a task together with its scheduling attributes.
type Node struct {
	Task            *task.Task
	Priority        Priority
	DependencyCount int
}

// Edge says that To may only run once From has completed.
type Edge struct {
	From *task.Task
	To   *task.Task
}

// TaskGraph is the set of nodes and edges submitted to the executor.
type TaskGraph struct {
	Nodes []Node
	Edges []Edge

	index map[*task.Task]int
}

// New returns an empty graph.
func New() *TaskGraph {
	return &TaskGraph{index: make(map[*task.Task]int)}
}

// InsertNode adds a node for t. A task may only be inserted once.
func (g *TaskGraph) InsertNode(t *task.Task, p Priority, dependencyCount int) error {
	if g.index == nil {
		g.index = make(map[*task.Task]int)
	}
	if _, ok := g.index[t]; ok {
		return fmt.Errorf("%s: %w", t, ErrDuplicateNode)
	}
	g.index[t] = len(g.Nodes)
	g.Nodes = append(g.Nodes, Node{Task: t, Priority: p, DependencyCount: dependencyCount})
	return nil
}

// AddEdge records that to depends on from. Endpoints are checked by Validate,
// so edges may be added before their nodes.
func (g *TaskGraph) AddEdge(from, to *task.Task) {
	g.Edges = append(g.Edges, Edge{From: from, To: to})
}

// Node returns the node for t.
func (g *TaskGraph) Node(t *task.Task) (Node, bool) {
	i, ok := g.index[t]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Dependencies returns the sources of every edge pointing at t, in insertion order.
func (g *TaskGraph) Dependencies(t *task.Task) []*task.Task {
	var deps []*task.Task
	for _, e := range g.Edges {
		if e.To == t {
			deps = append(deps, e.From)
		}
	}
	return deps
}

// Len returns the number of nodes.
func (g *TaskGraph) Len() int { return len(g.Nodes) }

// Validate checks that every edge joins two nodes, that every node's
// dependency count matches its incoming edges and that the graph is acyclic.
func (g *TaskGraph) Validate() error {
	incoming := make(map[*task.Task]int, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := g.index[e.From]; !ok {
			return fmt.Errorf("source %s: %w", e.From, ErrUnknownNode)
		}
		if _, ok := g.index[e.To]; !ok {
			return fmt.Errorf("destination %s: %w", e.To, ErrUnknownNode)
		}
		if e.From == e.To {
			return fmt.Errorf("self-referential edge on %s: %w", e.From, ErrCycle)
		}
		incoming[e.To]++
	}
	for _, n := range g.Nodes {
		if incoming[n.Task] != n.DependencyCount {
			return fmt.Errorf("%s has %d incoming edges, count %d: %w", n.Task, incoming[n.Task], n.DependencyCount, ErrDependencyCount)
		}
	}
	return g.detectCycles()
}

// detectCycles runs a depth-first search over the dependents of every node,
// tracking nodes on the current path (temporary) and nodes proven safe
// (permanent).
func (g *TaskGraph) detectCycles() error {
	dependents := make(map[*task.Task][]*task.Task, len(g.Nodes))
	for _, e := range g.Edges {
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	permanent := make(map[*task.Task]bool, len(g.Nodes))
	temporary := make(map[*task.Task]bool)

	var visit func(t *task.Task) error
	visit = func(t *task.Task) error {
		if permanent[t] {
			return nil
		}
		if temporary[t] {
			return fmt.Errorf("involving %s: %w", t, ErrCycle)
		}
		temporary[t] = true
		for _, d := range dependents[t] {
			if err := visit(d); err != nil {
				return err
			}
		}
		delete(temporary, t)
		permanent[t] = true
		return nil
	}

	for _, n := range g.Nodes {
		if err := visit(n.Task); err != nil {
			return err
		}
	}
	return nil
}
