// ============================================================================
// LOOKAHEAD HORIZON
// ============================================================================
//
// Horizon is the single walk behind every lookahead decision: the grow sweep
// during a configuration, the shrink check at its exit, and the forced sweep
// after a schedule replacement.
//
// Starting at configuration start, the walk visits configurations cyclically
// while the accumulated duration has not passed the budget:
//
//	acc := 0
//	for acc <= budget { visit(k); acc += dur(k); k++ }
//	leftover := acc - budget
//
// Leftover is how far past the budget the last visited configuration reaches;
// the executor schedules its next recomputation that far in the future.
// Once every configuration has been visited, whole cycles are skipped
// arithmetically so long budgets cost one pass. A step that would carry acc
// past math.MaxInt64 ends the walk; its overshoot is still exact.

package schedule

import "math"

// Horizon returns the distinct configuration indices visited from start
// within budgetUs, in visit order, and the overshoot past the budget.
func (s *Schedule) Horizon(start int, budgetUs int64) (visited []int, leftoverUs int64) {
	n := len(s.Configs)
	if n == 0 {
		return nil, 0
	}
	start %= n
	if start < 0 {
		start += n
	}
	if budgetUs < 0 {
		return nil, 0
	}
	var acc int64
	for k := 0; acc <= budgetUs; k++ {
		if k == n {
			if cycle := s.CycleUs(); cycle > 0 {
				acc += (budgetUs - acc) / cycle * cycle
			}
		}
		i := (start + k) % n
		if k < n {
			visited = append(visited, i)
		}
		dur := s.Configs[i].DurationUs
		if acc > math.MaxInt64-dur {
			return visited, dur - (budgetUs - acc)
		}
		acc += dur
	}
	return visited, acc - budgetUs
}

// PairsWithin returns every circuit pair of the configurations Horizon
// visits, deduplicated in visit order, and the overshoot.
func (s *Schedule) PairsWithin(start int, budgetUs int64) ([]Pair, int64) {
	visited, leftover := s.Horizon(start, budgetUs)
	seen := make(map[Pair]struct{}, s.Hosts*len(visited))
	pairs := make([]Pair, 0, s.Hosts*len(visited))
	for _, i := range visited {
		for dst, src := range s.Configs[i].Sources {
			if src == NoCircuit {
				continue
			}
			p := Pair{Src: src, Dst: dst}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	return pairs, leftover
}

// Reappears reports whether src holds the circuit to dst in any
// configuration visited by a walk starting one after m.
func (s *Schedule) Reappears(m int, budgetUs int64, src, dst int) bool {
	visited, _ := s.Horizon(m+1, budgetUs)
	for _, i := range visited {
		if s.Configs[i].Sources[dst] == src {
			return true
		}
	}
	return false
}
