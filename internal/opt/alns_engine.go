package opt

import (
	"context"
	"math"
	"math/rand"

	"netopt/internal/apperr"
)

// Metrics describes how a search went. Exact search fills the node counters,
// ALNS the operator counters.
type Metrics struct {
	RemovalSelects        [2]int           `json:"removalSelects"` // random, worst
	InsertSelects         [2]int           `json:"insertSelects"`  // greedy, random
	Iterations            int              `json:"iterations"`
	Improvements          int              `json:"improvements"`
	AcceptedWorse         int              `json:"acceptedWorse"`
	Evaluations           int              `json:"evaluations"`
	Nodes                 int              `json:"nodes"`
	Pruned                int              `json:"pruned"`
	LPBounds              int              `json:"lpBounds"`
	BestCost              float64          `json:"bestCost"`
	FinalCost             float64          `json:"finalCost"`
	FinalRemovalWeights   [2]float64       `json:"finalRemovalWeights"`
	FinalInsertionWeights [2]float64       `json:"finalInsertionWeights"`
	Snapshots             []WeightSnapshot `json:"snapshots,omitempty"`
}

type WeightSnapshot struct {
	Iteration int        `json:"iteration"`
	Removal   [2]float64 `json:"removal"`
	Insertion [2]float64 `json:"insertion"`
}

// ALNS is an adaptive large-neighbourhood search over open sets: each
// iteration closes one or two facilities (random or worst cost per unit),
// reopens by greedy or random choice, repairs feasibility, and accepts the
// candidate with a simulated-annealing rule. Operator weights adapt to
// success. The RNG is seeded from the config so runs are reproducible.
type ALNS struct{}

func (ALNS) Name() string { return "alns" }

func (ALNS) Solve(ctx context.Context, p *Problem) (Solution, error) {
	rng := rand.New(rand.NewSource(p.Config.Seed))
	cache := newEvalCache(p)
	curr, ok := greedySeed(ctx, p, cache)
	if !ok {
		if expired(ctx) {
			return Solution{}, apperr.Timeout("alns found no feasible open set before the deadline")
		}
		return Solution{}, apperr.Infeasible(0, "no open set satisfies the constraints")
	}
	best := curr
	remW := []float64{1, 1}
	insW := []float64{1, 1}
	temp := 0.01 * math.Max(1, math.Abs(best.Objective))
	cool := 0.995
	m := &Metrics{BestCost: best.Objective}
	snapshotEvery := 50

	for m.Iterations < p.Config.MaxIterations {
		if expired(ctx) {
			best.Approximate = true
			break
		}
		m.Iterations++
		k := 1 + rng.Intn(2)
		op := selectOp(remW, rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, rng)
		m.InsertSelects[ip]++

		open := append([]bool(nil), curr.Open...)
		switch op {
		case 0:
			closeRandom(p, open, k, rng)
		case 1:
			closeWorst(p, curr, open, k)
		}
		switch ip {
		case 0:
			openGreedy(ctx, p, cache, open)
		case 1:
			openRandom(p, open, rng)
		}
		if !fillToFeasible(p, open) {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
			continue
		}
		cand, ok := cache.eval(open)
		if !ok {
			continue
		}
		delta := cand.Objective - curr.Objective
		switch {
		case better(cand, best):
			best, curr = cand, cand
			publish(ctx, best)
			remW[op] += 0.1
			insW[ip] += 0.1
			m.Improvements++
			m.BestCost = best.Objective
		case delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)):
			curr = cand
			remW[op] += 0.01
			insW[ip] += 0.01
			if delta > 0 {
				m.AcceptedWorse++
			}
		default:
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: [2]float64{remW[0], remW[1]}, Insertion: [2]float64{insW[0], insW[1]}})
		}
	}
	if !best.Approximate {
		best = localSearch(ctx, p, cache, best)
		if expired(ctx) {
			best.Approximate = true
		}
	}
	m.Evaluations = cache.evals
	m.FinalCost = best.Objective
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	best.Metrics = m
	return best, nil
}

func closable(p *Problem, open []bool) []int {
	var out []int
	for i, o := range open {
		if o && !p.mandatory[i] {
			out = append(out, i)
		}
	}
	return out
}

func closeRandom(p *Problem, open []bool, k int, rng *rand.Rand) {
	cands := closable(p, open)
	for n := 0; n < k && len(cands) > 0; n++ {
		j := rng.Intn(len(cands))
		open[cands[j]] = false
		cands = append(cands[:j], cands[j+1:]...)
	}
}

// closeWorst closes the k open facilities with the highest objective cost per
// unit served in s.
func closeWorst(p *Problem, s Solution, open []bool, k int) {
	for n := 0; n < k; n++ {
		worst, worstCost := -1, -1.0
		for _, i := range closable(p, open) {
			if c := unitServiceCost(p, s, i); c > worstCost {
				worst, worstCost = i, c
			}
		}
		if worst < 0 {
			return
		}
		open[worst] = false
	}
}

// openGreedy opens the closed facility whose addition prices best among those
// tried before ctx expires.
func openGreedy(ctx context.Context, p *Problem, cache *evalCache, open []bool) {
	_, n := openCapacity(p, open)
	if n >= p.maxOpen {
		return
	}
	var best Solution
	pick := -1
	for i, o := range open {
		if o {
			continue
		}
		open[i] = true
		if s, ok := cache.eval(open); ok && better(s, best) {
			best, pick = s, i
		}
		open[i] = false
		if expired(ctx) {
			break
		}
	}
	if pick >= 0 {
		open[pick] = true
	}
}

func openRandom(p *Problem, open []bool, rng *rand.Rand) {
	_, n := openCapacity(p, open)
	if n >= p.maxOpen {
		return
	}
	var closed []int
	for i, o := range open {
		if !o {
			closed = append(closed, i)
		}
	}
	if len(closed) > 0 {
		open[closed[rng.Intn(len(closed))]] = true
	}
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
