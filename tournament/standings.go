package tournament

import (
	"sort"

	"github.com/tourneylab/tourney/telemetry"
)

// ModelStanding is one leaderboard row, aggregated per normalized model.
type ModelStanding struct {
	Model        string  `json:"model"`
	Matches      int     `json:"matches"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	LeaguePoints float64 `json:"league_points"`
	Chips        float64 `json:"chips"`
}

// Standings is sorted by league points, then chips, then name.
type Standings []ModelStanding

// ComputeStandings folds completed matches into per-model standings.
// Heads-up matches score 3/1/0 league points; multiplayer tables award
// positional points scaled from 3 for first place to 0 for last, tied
// seats sharing the average of their positions. Event weights multiply
// the points. Engine-error matches contribute nothing.
func ComputeStandings(results []MatchResult, weights map[string]float64) Standings {
	rows := map[string]*ModelStanding{}
	row := func(model string) *ModelStanding {
		model = telemetry.NormalizeModelName(model)
		r, ok := rows[model]
		if !ok {
			r = &ModelStanding{Model: model}
			rows[model] = r
		}
		return r
	}

	for _, mr := range results {
		sum := mr.Summary
		if sum.Ruling == telemetry.RulingEngineError || sum.Ruling == telemetry.RulingAborted {
			continue
		}
		weight := weights[sum.Event]
		if weight == 0 {
			weight = 1
		}

		seats := make([]string, 0, len(sum.FinalScores))
		for seat := range sum.FinalScores {
			seats = append(seats, seat)
		}
		sort.Strings(seats)

		points := positionalPoints(seats, sum.FinalScores)
		winner := sum.Winner()
		for _, seat := range seats {
			r := row(sum.PlayerModels[seat])
			r.Matches++
			r.Chips += sum.FinalScores[seat]
			r.LeaguePoints += points[seat] * weight
			switch {
			case winner == "":
				r.Draws++
			case sum.PlayerModels[seat] == winner:
				r.Wins++
			default:
				r.Losses++
			}
		}
	}

	standings := make(Standings, 0, len(rows))
	for _, r := range rows {
		standings = append(standings, *r)
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].LeaguePoints != standings[j].LeaguePoints {
			return standings[i].LeaguePoints > standings[j].LeaguePoints
		}
		if standings[i].Chips != standings[j].Chips {
			return standings[i].Chips > standings[j].Chips
		}
		return standings[i].Model < standings[j].Model
	})
	return standings
}

// positionalPoints maps each seat to its league points for one match.
func positionalPoints(seats []string, scores map[string]float64) map[string]float64 {
	n := len(seats)
	points := make(map[string]float64, n)
	if n == 0 {
		return points
	}
	if n == 2 {
		a, b := seats[0], seats[1]
		switch {
		case scores[a] > scores[b]:
			points[a], points[b] = 3, 0
		case scores[b] > scores[a]:
			points[a], points[b] = 0, 3
		default:
			points[a], points[b] = 1, 1
		}
		return points
	}

	// Rank seats by score descending; ties share the average points of
	// the positions they straddle.
	ranked := append([]string(nil), seats...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	pointsAt := func(pos int) float64 {
		return 3 * float64(n-1-pos) / float64(n-1)
	}
	for i := 0; i < n; {
		j := i
		total := 0.0
		for j < n && scores[ranked[j]] == scores[ranked[i]] {
			total += pointsAt(j)
			j++
		}
		share := total / float64(j-i)
		for k := i; k < j; k++ {
			points[ranked[k]] = share
		}
		i = j
	}
	return points
}
