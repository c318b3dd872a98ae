package opt

import "math"

// assign solves the transportation subproblem for a fixed open set and returns
// volume per [facility][demand]. ok is false when the open capacity cannot
// cover demand.
func (p *Problem) assign(open []bool) ([][]float64, bool) {
	nf, nd := len(p.Facilities), len(p.Demands)
	flow := make([][]float64, nf)
	for i := range flow {
		flow[i] = make([]float64, nd)
	}
	// Cheapest open facility per destination is optimal whenever it respects
	// every capacity, which is the common case.
	load := make([]float64, nf)
	for j, d := range p.Demands {
		if d.Demand == 0 {
			continue
		}
		best := -1
		for i := 0; i < nf; i++ {
			if !open[i] {
				continue
			}
			if best < 0 || p.arc[i][j] < p.arc[best][j] {
				best = i
			}
		}
		if best < 0 {
			return nil, false
		}
		flow[best][j] = d.Demand
		load[best] += d.Demand
	}
	fits := true
	for i := range load {
		if load[i] > p.Facilities[i].Capacity+capTol(p.Facilities[i].Capacity) {
			fits = false
			break
		}
	}
	if fits {
		return flow, true
	}
	return p.minCostFlow(open)
}

func capTol(c float64) float64 { return flowEps * math.Max(1, c) }

type flowEdge struct {
	from, to  int
	cap, cost float64
}

type flowGraph struct {
	edges []flowEdge
	adj   [][]int
}

func newFlowGraph(n int) *flowGraph { return &flowGraph{adj: make([][]int, n)} }

// add appends an edge and its residual twin; the twin of edge e is e^1.
func (g *flowGraph) add(from, to int, capacity, cost float64) int {
	id := len(g.edges)
	g.edges = append(g.edges, flowEdge{from: from, to: to, cap: capacity, cost: cost})
	g.edges = append(g.edges, flowEdge{from: to, to: from, cap: 0, cost: -cost})
	g.adj[from] = append(g.adj[from], id)
	g.adj[to] = append(g.adj[to], id+1)
	return id
}

// minCostFlow runs successive shortest paths (queue-based Bellman-Ford) on
// source -> demand -> facility -> sink.
func (p *Problem) minCostFlow(open []bool) ([][]float64, bool) {
	nf, nd := len(p.Facilities), len(p.Demands)
	src, sink := 0, 1+nd+nf
	demandNode := func(j int) int { return 1 + j }
	facilityNode := func(i int) int { return 1 + nd + i }

	g := newFlowGraph(sink + 1)
	arcEdge := make([][]int, nf)
	for i := range arcEdge {
		arcEdge[i] = make([]int, nd)
		for j := range arcEdge[i] {
			arcEdge[i][j] = -1
		}
	}
	for j, d := range p.Demands {
		if d.Demand > 0 {
			g.add(src, demandNode(j), d.Demand, 0)
		}
	}
	for j, d := range p.Demands {
		if d.Demand <= 0 {
			continue
		}
		for i := 0; i < nf; i++ {
			if open[i] {
				arcEdge[i][j] = g.add(demandNode(j), facilityNode(i), d.Demand, p.arc[i][j])
			}
		}
	}
	for i, f := range p.Facilities {
		if open[i] && f.Capacity > 0 {
			g.add(facilityNode(i), sink, f.Capacity, 0)
		}
	}

	n := sink + 1
	dist := make([]float64, n)
	prev := make([]int, n)
	inQueue := make([]bool, n)
	pushed := 0.0
	for pushed < p.totalDemand-capTol(p.totalDemand) {
		for v := range dist {
			dist[v] = math.Inf(1)
			prev[v] = -1
		}
		dist[src] = 0
		queue := []int{src}
		inQueue[src] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false
			for _, e := range g.adj[u] {
				ed := g.edges[e]
				if ed.cap <= flowEps {
					continue
				}
				if alt := dist[u] + ed.cost; alt < dist[ed.to]-1e-12 {
					dist[ed.to] = alt
					prev[ed.to] = e
					if !inQueue[ed.to] {
						inQueue[ed.to] = true
						queue = append(queue, ed.to)
					}
				}
			}
		}
		if math.IsInf(dist[sink], 1) {
			break
		}
		amount := p.totalDemand - pushed
		for v := sink; v != src; v = g.edges[prev[v]].from {
			amount = math.Min(amount, g.edges[prev[v]].cap)
		}
		for v := sink; v != src; v = g.edges[prev[v]].from {
			e := prev[v]
			g.edges[e].cap -= amount
			g.edges[e^1].cap += amount
		}
		pushed += amount
	}
	if pushed < p.totalDemand-capTol(p.totalDemand) {
		return nil, false
	}

	flow := make([][]float64, nf)
	for i := range flow {
		flow[i] = make([]float64, nd)
		for j := range flow[i] {
			e := arcEdge[i][j]
			if e < 0 {
				continue
			}
			if v := g.edges[e^1].cap; v > flowEps {
				flow[i][j] = v
			}
		}
	}
	return flow, true
}
