package opt

import "sync"

// StatsStore keeps the search statistics of recent runs so the API can serve
// them next to the run record. Oldest entries are evicted past the limit.
type StatsStore struct {
	mu    sync.Mutex
	limit int
	order []string
	byRun map[string]statsEntry
}

type statsEntry struct {
	Solver  string
	Metrics Metrics
}

func NewStatsStore(limit int) *StatsStore {
	if limit <= 0 {
		limit = 256
	}
	return &StatsStore{limit: limit, byRun: map[string]statsEntry{}}
}

func (s *StatsStore) Record(runID, solver string, m *Metrics) {
	if s == nil || m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRun[runID]; !ok {
		s.order = append(s.order, runID)
	}
	s.byRun[runID] = statsEntry{Solver: solver, Metrics: *m}
	for len(s.order) > s.limit {
		delete(s.byRun, s.order[0])
		s.order = s.order[1:]
	}
}

// Get returns the solver name and a copy of the metrics recorded for runID.
func (s *StatsStore) Get(runID string) (string, Metrics, bool) {
	if s == nil {
		return "", Metrics{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byRun[runID]
	return e.Solver, e.Metrics, ok
}
