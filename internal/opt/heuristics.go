package opt

import (
	"context"
	"math"
	"strings"
)

// evalCache memoises priced open sets for the lifetime of one solve.
type evalCache struct {
	p     *Problem
	seen  map[string]cached
	evals int
}

type cached struct {
	sol Solution
	ok  bool
}

func newEvalCache(p *Problem) *evalCache {
	return &evalCache{p: p, seen: map[string]cached{}}
}

func (c *evalCache) key(open []bool) string {
	var b strings.Builder
	b.Grow(len(open))
	for _, o := range open {
		if o {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func (c *evalCache) eval(open []bool) (Solution, bool) {
	k := c.key(open)
	if hit, ok := c.seen[k]; ok {
		return hit.sol, hit.ok
	}
	c.evals++
	sol, ok := c.p.evaluate(open)
	c.seen[k] = cached{sol, ok}
	return sol, ok
}

func openCapacity(p *Problem, open []bool) (float64, int) {
	capSum, n := 0.0, 0
	for i, o := range open {
		if o {
			capSum += p.Facilities[i].Capacity
			n++
		}
	}
	return capSum, n
}

// fillToFeasible adds facilities until demand is coverable and the minimum
// count is met, preferring the largest capacity and then the cheapest opening.
// Facilities are dropped (most expensive first) while above the maximum.
func fillToFeasible(p *Problem, open []bool) bool {
	capSum, n := openCapacity(p, open)
	for n > p.maxOpen {
		worst := -1
		for i, o := range open {
			if !o || p.mandatory[i] {
				continue
			}
			if worst < 0 || p.openCost[i] > p.openCost[worst] {
				worst = i
			}
		}
		if worst < 0 {
			return false
		}
		open[worst] = false
		capSum -= p.Facilities[worst].Capacity
		n--
	}
	for capSum < p.totalDemand-capTol(p.totalDemand) || n < p.minOpen {
		if n >= p.maxOpen {
			return false
		}
		pick := -1
		for i, o := range open {
			if o {
				continue
			}
			if pick < 0 {
				pick = i
				continue
			}
			ci, cp := p.Facilities[i].Capacity, p.Facilities[pick].Capacity
			if ci > cp || (ci == cp && p.openCost[i] < p.openCost[pick]) {
				pick = i
			}
		}
		if pick < 0 {
			return false
		}
		open[pick] = true
		capSum += p.Facilities[pick].Capacity
		n++
	}
	return true
}

// greedySeed builds a feasible open set and improves it with add, drop and
// swap moves until no move helps or ctx expires.
func greedySeed(ctx context.Context, p *Problem, cache *evalCache) (Solution, bool) {
	open := append([]bool(nil), p.mandatory...)
	if !fillToFeasible(p, open) {
		return Solution{}, false
	}
	cur, ok := cache.eval(open)
	if !ok {
		return Solution{}, false
	}
	publish(ctx, cur)
	return localSearch(ctx, p, cache, cur), true
}

// localSearch applies the best add/drop/swap move per round. Ties between
// moves resolve through better, so the outcome does not depend on move order.
// The deadline is checked after every evaluation; on expiry the best solution
// seen so far is returned.
func localSearch(ctx context.Context, p *Problem, cache *evalCache, cur Solution) Solution {
	for !expired(ctx) {
		best := cur
		open := append([]bool(nil), cur.Open...)
		try := func() bool {
			if s, ok := cache.eval(open); ok && better(s, best) {
				best = s
				publish(ctx, s)
			}
			return expired(ctx)
		}
		for i := range open {
			switch {
			case !open[i] && cur.OpenCount < p.maxOpen:
				open[i] = true
				stop := try()
				open[i] = false
				if stop {
					return best
				}
			case open[i] && !p.mandatory[i] && cur.OpenCount > p.minOpen:
				open[i] = false
				stop := try()
				open[i] = true
				if stop {
					return best
				}
			}
		}
		for i := range open {
			if !open[i] || p.mandatory[i] {
				continue
			}
			for k := range open {
				if open[k] {
					continue
				}
				open[i], open[k] = false, true
				stop := try()
				open[i], open[k] = true, false
				if stop {
					return best
				}
			}
		}
		if !better(best, cur) {
			return cur
		}
		cur = best
	}
	return cur
}

// unitServiceCost is the objective cost per unit a facility serves in s,
// including its opening cost. Idle facilities rank as infinitely expensive.
func unitServiceCost(p *Problem, s Solution, i int) float64 {
	load, cost := 0.0, p.openCost[i]
	for j, v := range s.Flow[i] {
		load += v
		cost += v * p.arc[i][j]
	}
	if load <= flowEps {
		return math.Inf(1)
	}
	return cost / load
}
