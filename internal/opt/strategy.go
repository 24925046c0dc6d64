package opt

import (
	"fmt"
	"math"

	"github.com/cwbudde/swarmcal/internal/fit"
)

// Strategy is a population-based search driven one generation at a time by
// the controller: Ask yields the batch to evaluate, Tell feeds the results
// back. Strategies are single-threaded and are never called while a batch
// is in flight.
type Strategy interface {
	Name() string
	// Ask returns the candidates to evaluate this generation. Candidate IDs
	// are population slots and double as workspace slots.
	Ask() []fit.Candidate
	// Tell consumes one result per asked candidate, in any order.
	Tell(results []fit.Result) error
	// Best returns the best position seen so far and its error (+Inf if
	// nothing has succeeded yet).
	Best() (fit.Vector, float64)
	// Generation returns the number of completed Tell calls.
	Generation() int
}

// Seeder is implemented by strategies that can start from a known point,
// used when resuming from a checkpoint.
type Seeder interface {
	Seed(x fit.Vector) error
}

// PopulationSize returns round(factor*dim), at least 1.
func PopulationSize(factor float64, dim int) int {
	n := int(math.Round(factor * float64(dim)))
	if n < 1 {
		n = 1
	}
	return n
}

// errorOf maps a result to a rankable error; failures become the sentinel.
func errorOf(r fit.Result) float64 {
	if !r.OK() {
		return fit.Sentinel
	}
	return r.Error
}

// indexResults maps each result to the asked candidate with the same ID.
func indexResults(asked []fit.Candidate, results []fit.Result) (map[int]fit.Result, error) {
	if len(results) != len(asked) {
		return nil, fmt.Errorf("expected %d results, got %d", len(asked), len(results))
	}
	known := make(map[int]bool, len(asked))
	for _, c := range asked {
		known[c.ID] = true
	}
	byID := make(map[int]fit.Result, len(results))
	for _, r := range results {
		if !known[r.CandidateID] {
			return nil, fmt.Errorf("result for unknown candidate %d", r.CandidateID)
		}
		if _, dup := byID[r.CandidateID]; dup {
			return nil, fmt.Errorf("duplicate result for candidate %d", r.CandidateID)
		}
		byID[r.CandidateID] = r
	}
	return byID, nil
}
