package holdem

import (
	"sort"
	"strings"
)

// Hand categories, low to high.
const (
	catHighCard = iota
	catPair
	catTwoPair
	catThreeOfAKind
	catStraight
	catFlush
	catFullHouse
	catFourOfAKind
	catStraightFlush
)

const (
	rankOrder = "23456789TJQKA"
	suitOrder = "hdcs"
)

func rankValue(r byte) int { return strings.IndexByte(rankOrder, r) }

// pack encodes a hand as category<<20 with up to five kicker ranks in four
// bits each, high to low, so integer comparison orders hands correctly.
func pack(cat int, kickers ...int) int {
	v := cat << 20
	for i, k := range kickers {
		v |= k << (16 - 4*i)
	}
	return v
}

// evaluate5 scores exactly five cards.
func evaluate5(cards []string) int {
	vals := make([]int, 5)
	flushOK := true
	for i, c := range cards {
		vals[i] = rankValue(c[0])
		if c[1] != cards[0][1] {
			flushOK = false
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(vals)))

	counts := make(map[int]int, 5)
	for _, v := range vals {
		counts[v]++
	}

	straightHigh := -1
	if len(counts) == 5 {
		switch {
		case vals[0]-vals[4] == 4:
			straightHigh = vals[0]
		case vals[0] == 12 && vals[1] == 3:
			// Wheel: A-2-3-4-5 plays as five-high.
			straightHigh = 3
		}
	}

	if straightHigh >= 0 && flushOK {
		return pack(catStraightFlush, straightHigh)
	}

	// Ranks ordered by multiplicity, then rank.
	type group struct{ count, val int }
	groups := make([]group, 0, len(counts))
	for v, c := range counts {
		groups = append(groups, group{c, v})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].val > groups[j].val
	})

	switch {
	case groups[0].count == 4:
		return pack(catFourOfAKind, groups[0].val, groups[1].val)
	case groups[0].count == 3 && groups[1].count == 2:
		return pack(catFullHouse, groups[0].val, groups[1].val)
	case flushOK:
		return pack(catFlush, vals[0], vals[1], vals[2], vals[3], vals[4])
	case straightHigh >= 0:
		return pack(catStraight, straightHigh)
	case groups[0].count == 3:
		return pack(catThreeOfAKind, groups[0].val, groups[1].val, groups[2].val)
	case groups[0].count == 2 && groups[1].count == 2:
		return pack(catTwoPair, groups[0].val, groups[1].val, groups[2].val)
	case groups[0].count == 2:
		return pack(catPair, groups[0].val, groups[1].val, groups[2].val, groups[3].val)
	default:
		return pack(catHighCard, vals[0], vals[1], vals[2], vals[3], vals[4])
	}
}

// bestFive scores the best five-card hand from five to seven cards.
func bestFive(cards []string) int {
	n := len(cards)
	if n == 5 {
		return evaluate5(cards)
	}
	best := 0
	pick := make([]string, 5)
	// Choose two indices to drop (or one for six cards).
	for skip1 := 0; skip1 < n; skip1++ {
		for skip2 := skip1 + 1; skip2 <= n; skip2++ {
			if n == 6 && skip2 < n {
				continue
			}
			if n == 7 && skip2 == n {
				continue
			}
			pick = pick[:0]
			for i := 0; i < n; i++ {
				if i == skip1 || i == skip2 {
					continue
				}
				pick = append(pick, cards[i])
			}
			if score := evaluate5(pick); score > best {
				best = score
			}
		}
	}
	return best
}

func newDeck() []string {
	deck := make([]string, 0, 52)
	for _, r := range rankOrder {
		for _, s := range suitOrder {
			deck = append(deck, string(r)+string(s))
		}
	}
	return deck
}
