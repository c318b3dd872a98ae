package opt

import (
	"context"
	"math"
	"sort"

	"netopt/internal/apperr"
)

// Exact is a depth-first branch-and-bound over facilities in ID order. Each
// node is pruned on cardinality, on reachable capacity, and on a lower bound
// (cheapest open-or-undecided arc per destination, tightened by an LP
// relaxation when the instance is small enough).
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Solve(ctx context.Context, p *Problem) (Solution, error) {
	cache := newEvalCache(p)
	b := &bnb{ctx: ctx, p: p, cache: cache, m: &Metrics{}}
	if seed, ok := greedySeed(ctx, p, cache); ok {
		b.inc = seed
	}
	open := make([]bool, len(p.Facilities))
	b.dfs(0, open, 0, 0)

	b.m.Evaluations = cache.evals
	if b.stopped {
		if !b.inc.Valid() {
			return Solution{}, apperr.Timeout("exact search found no feasible open set before the deadline")
		}
		b.inc.Approximate = true
	}
	if !b.inc.Valid() {
		return Solution{}, apperr.Infeasible(0, "no open set satisfies the constraints")
	}
	b.m.BestCost = b.inc.Objective
	b.m.FinalCost = b.inc.Objective
	b.inc.Metrics = b.m
	return b.inc, nil
}

type bnb struct {
	ctx     context.Context
	p       *Problem
	cache   *evalCache
	inc     Solution
	m       *Metrics
	stopped bool
}

func (b *bnb) dfs(i int, open []bool, count int, openCap float64) {
	if b.stopped {
		return
	}
	b.m.Nodes++
	if expired(b.ctx) {
		b.stopped = true
		return
	}
	p := b.p
	nf := len(p.Facilities)
	if count > p.maxOpen || count+(nf-i) < p.minOpen {
		b.m.Pruned++
		return
	}
	if openCap+b.topRemainingCapacity(i, p.maxOpen-count) < p.totalDemand-capTol(p.totalDemand) {
		b.m.Pruned++
		return
	}
	if i == nf {
		if s, ok := b.cache.eval(open); ok && better(s, b.inc) {
			b.inc = s
			b.m.Improvements++
			publish(b.ctx, s)
		}
		return
	}
	if b.inc.Valid() {
		lb, feasible := b.bound(i, open, count)
		if !feasible || lb > b.inc.Objective+objTol(b.inc.Objective) {
			b.m.Pruned++
			return
		}
	}

	open[i] = true
	b.dfs(i+1, open, count+1, openCap+p.Facilities[i].Capacity)
	open[i] = false
	if !p.mandatory[i] {
		b.dfs(i+1, open, count, openCap)
	}
}

func (b *bnb) topRemainingCapacity(from, slots int) float64 {
	if slots <= 0 {
		return 0
	}
	caps := make([]float64, 0, len(b.p.Facilities)-from)
	for k := from; k < len(b.p.Facilities); k++ {
		caps = append(caps, b.p.Facilities[k].Capacity)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(caps)))
	sum := 0.0
	for k := 0; k < slots && k < len(caps); k++ {
		sum += caps[k]
	}
	return sum
}

// bound returns a lower bound on the objective of any completion of the
// partial decision open[:i]. feasible is false when no completion exists.
func (b *bnb) bound(i int, open []bool, count int) (float64, bool) {
	p := b.p
	nf := len(p.Facilities)
	fixed := make([]bool, nf)
	undecided := make([]bool, nf)
	fixedCount := 0
	lb := p.constant
	for k := 0; k < nf; k++ {
		switch {
		case k < i && open[k], k >= i && p.mandatory[k]:
			fixed[k] = true
			fixedCount++
			lb += p.openCost[k]
		case k >= i:
			undecided[k] = true
		}
	}
	if fixedCount > p.maxOpen {
		return 0, false
	}
	simple := lb
	for j, d := range p.Demands {
		if d.Demand == 0 {
			continue
		}
		best := math.Inf(1)
		for k := 0; k < nf; k++ {
			if (fixed[k] || undecided[k]) && p.arc[k][j] < best {
				best = p.arc[k][j]
			}
		}
		if math.IsInf(best, 1) {
			return 0, false
		}
		simple += d.Demand * best
	}
	if b.inc.Valid() && simple > b.inc.Objective+objTol(b.inc.Objective) {
		return simple, true
	}
	if val, ok := p.lpBound(fixed, undecided, fixedCount); ok {
		b.m.LPBounds++
		return math.Max(simple, lb+val), true
	}
	return simple, true
}
