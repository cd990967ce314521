package ggml

import (
	"golang.org/x/sync/errgroup"
)

// Graph is the ordered list of nodes needed to produce a set of outputs.
type Graph struct {
	ctx     *Context
	order   []Tensor
	visited []bool
}

func (ctx *Context) NewGraph() *Graph {
	return &Graph{ctx: ctx}
}

// Expand adds t and everything it depends on. Nodes are ordered so that each
// node follows its sources, and nodes from earlier Expand calls precede
// nodes added by later ones.
func (g *Graph) Expand(t Tensor) {
	if n := len(g.ctx.nodes); len(g.visited) < n {
		g.visited = append(g.visited, make([]bool, n-len(g.visited))...)
	}
	g.visit(t)
}

func (g *Graph) visit(t Tensor) {
	if g.visited[t] {
		return
	}
	g.visited[t] = true
	n := g.ctx.node(t)
	for _, s := range n.src {
		if s != noTensor {
			g.visit(s)
		}
	}
	if n.op != OpNone {
		g.order = append(g.order, t)
	}
}

// Nodes reports the number of scheduled nodes.
func (g *Graph) Nodes() int { return len(g.order) }

// Compute runs every scheduled node in order. Each operator splits its work
// across up to threads goroutines; Compute returns once all nodes are done.
func (g *Graph) Compute(threads int) {
	threads = max(threads, 1)
	for _, t := range g.order {
		units, run := g.ctx.task(t)
		if run == nil || units == 0 {
			continue
		}
		parallel(threads, units, run)
	}
}

// minUnitsPerWorker keeps tiny operators on the calling goroutine.
const minUnitsPerWorker = 4

func parallel(threads, units int, run func(lo, hi int)) {
	nth := min(threads, units/minUnitsPerWorker)
	if nth <= 1 {
		run(0, units)
		return
	}
	chunk := (units + nth - 1) / nth
	var g errgroup.Group
	g.SetLimit(nth)
	for lo := 0; lo < units; lo += chunk {
		hi := min(lo+chunk, units)
		g.Go(func() error {
			run(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
