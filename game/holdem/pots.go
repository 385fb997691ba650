package holdem

import "sort"

// sidePot is one layer of the pot: the chips contributed between two all-in
// levels and the non-folded seats eligible to win them.
type sidePot struct {
	amount   int
	eligible []string
}

// buildSidePots layers the hand's contributions by ascending all-in level.
// Folded seats contribute but are never eligible. order fixes eligibility
// order so remainder distribution is deterministic.
func buildSidePots(order []string, invested map[string]int, folded map[string]bool) []sidePot {
	levels := make([]int, 0, len(invested))
	seen := make(map[int]bool)
	for _, amt := range invested {
		if amt > 0 && !seen[amt] {
			seen[amt] = true
			levels = append(levels, amt)
		}
	}
	sort.Ints(levels)

	pots := make([]sidePot, 0, len(levels))
	prev := 0
	for _, level := range levels {
		pot := sidePot{}
		for _, seat := range order {
			if invested[seat] < level {
				continue
			}
			pot.amount += level - prev
			if !folded[seat] {
				pot.eligible = append(pot.eligible, seat)
			}
		}
		pots = append(pots, pot)
		prev = level
	}
	return pots
}

// distributePots awards each pot to the best eligible hand, splitting ties
// with the odd chip going to the first winner in seat order.
func distributePots(pots []sidePot, scores map[string]int) map[string]int {
	won := make(map[string]int)
	for _, pot := range pots {
		if len(pot.eligible) == 0 {
			continue
		}
		best := -1
		for _, seat := range pot.eligible {
			if scores[seat] > best {
				best = scores[seat]
			}
		}
		var winners []string
		for _, seat := range pot.eligible {
			if scores[seat] == best {
				winners = append(winners, seat)
			}
		}
		share := pot.amount / len(winners)
		remainder := pot.amount % len(winners)
		for i, seat := range winners {
			won[seat] += share
			if i == 0 {
				won[seat] += remainder
			}
		}
	}
	return won
}
