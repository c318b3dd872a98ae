package opt

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpBound solves the LP relaxation of the remaining decisions in standard
// form (equalities, non-negative variables):
//
//	Σ_f x[f][d]                 = demand(d)        every destination
//	Σ_d x[f][d] + s[f]          = cap(f)           facilities fixed open
//	Σ_d x[f][d] - cap(f)·y[f] + s[f] = 0           undecided facilities
//	y[f] + t[f]                 = 1                undecided facilities
//	Σ y[f] + u                  = max - fixed
//	Σ y[f] - v                  = min - fixed      only when positive
//
// It returns the LP optimum without the fixed opening costs. ok is false when
// the LP is too large or the solver could not produce an optimum; emptiness of
// a node is left to the capacity and cardinality checks.
func (p *Problem) lpBound(fixed, undecided []bool, fixedCount int) (float64, bool) {
	if p.Config.LPBoundMaxVars < 0 {
		return 0, false
	}
	var active, und []int
	for k := range p.Facilities {
		if fixed[k] || undecided[k] {
			active = append(active, k)
		}
		if undecided[k] {
			und = append(und, k)
		}
	}
	var dems []int
	for j, d := range p.Demands {
		if d.Demand > 0 {
			dems = append(dems, j)
		}
	}
	if len(dems) == 0 || len(active) == 0 {
		return 0, false
	}
	maxRHS := float64(p.maxOpen - fixedCount)
	if maxRHS < 0 {
		return 0, false
	}
	minRHS := float64(p.minOpen - fixedCount)

	nx := len(active) * len(dems)
	xCol := func(a, d int) int { return a*len(dems) + d }
	sCol := func(a int) int { return nx + a }
	yBase := nx + len(active)
	yCol := func(u int) int { return yBase + 2*u }
	tCol := func(u int) int { return yBase + 2*u + 1 }
	n := yBase + 2*len(und)
	uCol, vCol := -1, -1
	if len(und) > 0 {
		uCol = n
		n++
		if minRHS > 0 {
			vCol = n
			n++
		}
	}
	if n > p.Config.LPBoundMaxVars {
		return 0, false
	}

	m := len(dems) + len(active) + len(und)
	if uCol >= 0 {
		m++
	}
	if vCol >= 0 {
		m++
	}
	A := mat.NewDense(m, n, nil)
	bvec := make([]float64, m)
	c := make([]float64, n)

	row := 0
	for di, j := range dems {
		for a := range active {
			A.Set(row, xCol(a, di), 1)
		}
		bvec[row] = p.Demands[j].Demand
		row++
	}
	undPos := make(map[int]int, len(und))
	for u, k := range und {
		undPos[k] = u
	}
	for a, k := range active {
		for di, j := range dems {
			A.Set(row, xCol(a, di), 1)
			c[xCol(a, di)] = p.arc[k][j]
		}
		A.Set(row, sCol(a), 1)
		if u, isUnd := undPos[k]; isUnd {
			A.Set(row, yCol(u), -p.Facilities[k].Capacity)
		} else {
			bvec[row] = p.Facilities[k].Capacity
		}
		row++
	}
	for u, k := range und {
		A.Set(row, yCol(u), 1)
		A.Set(row, tCol(u), 1)
		c[yCol(u)] = p.openCost[k]
		bvec[row] = 1
		row++
	}
	if uCol >= 0 {
		for u := range und {
			A.Set(row, yCol(u), 1)
		}
		A.Set(row, uCol, 1)
		bvec[row] = maxRHS
		row++
	}
	if vCol >= 0 {
		for u := range und {
			A.Set(row, yCol(u), 1)
		}
		A.Set(row, vCol, -1)
		bvec[row] = minRHS
	}

	return simplex(c, A, bvec)
}

// simplex wraps lp.Simplex; input shapes the package rejects by panicking are
// reported as "no bound" rather than crashing the search.
func simplex(c []float64, A *mat.Dense, b []float64) (val float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			val, ok = 0, false
		}
	}()
	opt, _, err := lp.Simplex(c, A, b, 1e-10, nil)
	if err != nil {
		return 0, false
	}
	// Relative epsilon absorbs pivoting noise.
	return opt - 1e-7*math.Max(1, math.Abs(opt)), true
}
