package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"netopt/internal/apperr"
)

// Solver searches open sets for a Problem. Implementations must honour ctx:
// on expiry they return their best incumbent with Approximate set, or a
// Timeout error when they have none.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p *Problem) (Solution, error)
}

// Registry resolves solver names. "auto" picks exact search for small
// instances and the heuristic otherwise.
type Registry map[string]Solver

func DefaultRegistry() Registry {
	return Registry{"exact": Exact{}, "alns": ALNS{}}
}

func (r Registry) Resolve(name string, p *Problem) (Solver, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		name = "alns"
		if free := p.FreeCount(); free < 62 && math.Pow(2, float64(free)) <= float64(p.Config.ExactMaxSubsets) {
			name = "exact"
		}
	}
	s, ok := r[name]
	if !ok {
		return nil, apperr.Validation("unknown solver %q", name)
	}
	return s, nil
}

// Run executes s on its own goroutine under budget. The solver is expected to
// stop cooperatively at the deadline. If nothing arrives within budget+grace
// the call returns the last incumbent the solver published, tagged
// Approximate, or a Timeout when there is none.
func Run(ctx context.Context, s Solver, p *Problem, budget, grace time.Duration) (Solution, error) {
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	slot := &incumbent{}
	sctx, cancel := context.WithTimeout(context.WithValue(ctx, incumbentKey{}, slot), budget)
	defer cancel()

	type outcome struct {
		sol Solution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sol, err := s.Solve(sctx, p)
		done <- outcome{sol, err}
	}()

	hard := time.NewTimer(budget + grace)
	defer hard.Stop()
	select {
	case o := <-done:
		if o.err != nil {
			return Solution{}, o.err
		}
		o.sol.Solver = s.Name()
		return o.sol, nil
	case <-hard.C:
		if sol, ok := slot.get(); ok {
			sol.Solver = s.Name()
			return sol, nil
		}
		return Solution{}, apperr.Timeout("solver %s gave no answer within %s", s.Name(), budget+grace)
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Solution{}, fmt.Errorf("solve cancelled: %w", ctx.Err())
		}
		if sol, ok := slot.get(); ok {
			sol.Solver = s.Name()
			return sol, nil
		}
		return Solution{}, apperr.Timeout("caller deadline expired while solver %s was running", s.Name())
	}
}

type incumbentKey struct{}

// incumbent holds the best feasible solution a running solver has seen.
type incumbent struct {
	mu  sync.Mutex
	sol Solution
}

func (in *incumbent) offer(s Solution) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if better(s, in.sol) {
		in.sol = s
	}
}

// get returns a copy of the incumbent tagged Approximate.
func (in *incumbent) get() (Solution, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.sol.Valid() {
		return Solution{}, false
	}
	s := in.sol
	s.Approximate = true
	s.Metrics = nil
	return s, true
}

// publish records s as a candidate incumbent for the Run driving ctx. Solvers
// call it whenever their best solution improves; it is a no-op outside Run.
func publish(ctx context.Context, s Solution) {
	if in, ok := ctx.Value(incumbentKey{}).(*incumbent); ok && s.Valid() {
		in.offer(s)
	}
}

// expired reports whether ctx has been cancelled, without blocking.
func expired(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
