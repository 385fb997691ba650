package tournament

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/tourneylab/tourney/adapter"
	"github.com/tourneylab/tourney/referee"
	"github.com/tourneylab/tourney/seed"
	"github.com/tourneylab/tourney/telemetry"
)

// Agent is a configured participant: an adapter plus its compute caps.
type Agent struct {
	Name        string
	Adapter     adapter.Adapter
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Options configures one tournament run.
type Options struct {
	// RunID identifies the run in the tournaments collection. A random
	// UUID is drawn when empty.
	RunID string

	Name    string
	Version string
	Seed    int64

	// OutputDir receives one durable log file per match.
	OutputDir string

	// MaxParallel bounds concurrent matches. Defaults to 1.
	MaxParallel int

	Agents  map[string]Agent
	Events  []Event
	Referee referee.Options

	// Sink and Live are optional; nil disables them.
	Sink *telemetry.Sink
	Live *telemetry.LiveFeed
}

// MatchResult pairs a finished match with its summary.
type MatchResult struct {
	Match   Match
	Summary telemetry.MatchSummary
}

// Result aggregates one run.
type Result struct {
	Matches      int
	Completed    int
	EngineErrors int
	Forfeits     int
	Results      []MatchResult
	Standings    Standings
}

// Failed reports whether the run must exit non-zero.
func (r *Result) Failed() bool { return r.EngineErrors > 0 }

// Orchestrator schedules and executes a full tournament.
type Orchestrator struct {
	opts Options
	mgr  *seed.Manager
}

// New validates the run options. Configuration problems surface here,
// before any match starts.
func New(opts Options) (*Orchestrator, error) {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.OutputDir == "" {
		return nil, errors.New("orchestrator: output directory is required")
	}
	if len(opts.Agents) == 0 {
		return nil, errors.New("orchestrator: no agents configured")
	}
	for _, ev := range opts.Events {
		if err := validateEvent(ev); err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		for _, m := range ev.Matchups {
			for _, agent := range m {
				if _, ok := opts.Agents[agent]; !ok {
					return nil, fmt.Errorf("orchestrator: event %s names unknown agent %q", ev.Name, agent)
				}
			}
		}
		for _, agent := range ev.Participants {
			if _, ok := opts.Agents[agent]; !ok {
				return nil, fmt.Errorf("orchestrator: event %s names unknown agent %q", ev.Name, agent)
			}
		}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Orchestrator{opts: opts, mgr: seed.NewManager(opts.Seed)}, nil
}

// Run executes the schedule. Engine failures are counted and skipped;
// file-sink failures and cancellation abort the run.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	schedule, err := BuildSchedule(o.mgr, o.opts.Events)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	res := &Result{}
	if o.opts.Sink != nil {
		o.opts.Sink.UpsertTournament(ctx, telemetry.TournamentDocument{
			RunID:     o.opts.RunID,
			Name:      o.opts.Name,
			Version:   o.opts.Version,
			Seed:      o.opts.Seed,
			StartedAt: started,
		})
	}

	if err := o.runPool(ctx, schedule, res); err != nil {
		return res, err
	}
	for _, ev := range o.opts.Events {
		if ev.Format != FormatBracket {
			continue
		}
		if err := o.runBracket(ctx, ev, res); err != nil {
			return res, err
		}
	}

	weights := make(map[string]float64, len(o.opts.Events))
	for _, ev := range o.opts.Events {
		weights[ev.Name] = ev.Weight
	}
	res.Standings = ComputeStandings(res.Results, weights)

	if o.opts.Sink != nil {
		o.opts.Sink.UpsertTournament(ctx, telemetry.TournamentDocument{
			RunID:      o.opts.RunID,
			Name:       o.opts.Name,
			Version:    o.opts.Version,
			Seed:       o.opts.Seed,
			Matches:    res.Matches,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		})
	}
	log.Infof(ctx, "run %s: %d matches, %d completed, %d engine errors, %d forfeits",
		o.opts.RunID, res.Matches, res.Completed, res.EngineErrors, res.Forfeits)
	return res, nil
}

// runPool executes matches with bounded parallelism. The first fatal error
// cancels the remaining work.
func (o *Orchestrator) runPool(ctx context.Context, matches []Match, res *Result) error {
	if len(matches) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		fatal    error
		wg       sync.WaitGroup
		workload = make(chan Match)
	)
	record := func(m Match, sum telemetry.MatchSummary, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Matches++
		switch {
		case errors.Is(err, ErrEngineFailure):
			res.EngineErrors++
			res.Results = append(res.Results, MatchResult{Match: m, Summary: sum})
		case err != nil:
			if fatal == nil {
				fatal = err
				cancel()
			}
		default:
			res.Completed++
			if sum.FidelityReport.MatchForfeited {
				res.Forfeits++
			}
			res.Results = append(res.Results, MatchResult{Match: m, Summary: sum})
		}
	}

	for w := 0; w < o.opts.MaxParallel; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workload {
				sum, err := o.runMatch(ctx, m)
				record(m, sum, err)
			}
		}()
	}
	for _, m := range matches {
		select {
		case workload <- m:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(workload)
	wg.Wait()

	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// runBracket plays elimination rounds until one player remains. Winners
// advance; ties advance the lexicographically first agent so the bracket
// stays deterministic.
func (o *Orchestrator) runBracket(ctx context.Context, ev Event, res *Result) error {
	players := append([]string(nil), ev.Participants...)
	sort.Strings(players)

	for round := 1; len(players) > 1; round++ {
		matches, byes := BracketRound(o.mgr, ev, round, players)
		before := len(res.Results)
		if err := o.runPool(ctx, matches, res); err != nil {
			return err
		}
		next := append([]string(nil), byes...)
		for _, mr := range res.Results[before:] {
			next = append(next, advancing(mr))
		}
		sort.Strings(next)
		players = next
	}
	if len(players) == 1 {
		log.Infof(ctx, "event %s: bracket winner %s", ev.Name, players[0])
	}
	return nil
}

// advancing picks the bracket survivor of one match: the agent behind the
// top-scoring seat, ties broken by agent name.
func advancing(mr MatchResult) string {
	seats := make([]string, 0, len(mr.Summary.FinalScores))
	for seat := range mr.Summary.FinalScores {
		seats = append(seats, seat)
	}
	sort.Strings(seats)

	type scored struct {
		agent string
		score float64
	}
	var ranked []scored
	for i, seat := range seats {
		agent := seat
		if i < len(mr.Match.Agents) {
			agent = mr.Match.Agents[i]
		}
		ranked = append(ranked, scored{agent: agent, score: mr.Summary.FinalScores[seat]})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].agent < ranked[j].agent
	})
	return ranked[0].agent
}

func (o *Orchestrator) runMatch(ctx context.Context, m Match) (telemetry.MatchSummary, error) {
	var ev *Event
	for i := range o.opts.Events {
		if o.opts.Events[i].Name == m.Event {
			ev = &o.opts.Events[i]
			break
		}
	}
	if ev == nil {
		return telemetry.MatchSummary{}, fmt.Errorf("match %s: unknown event %s", m.ID, m.Event)
	}

	engine, err := ev.NewEngine()
	if err != nil {
		return telemetry.MatchSummary{}, fmt.Errorf("match %s: %w", m.ID, err)
	}
	engine.Reset(m.Seed)

	engineSeats := engine.Seats()
	if len(engineSeats) != len(m.Agents) {
		return telemetry.MatchSummary{}, fmt.Errorf("match %s: %d agents for %d seats", m.ID, len(m.Agents), len(engineSeats))
	}
	seats := make(map[string]SeatBinding, len(engineSeats))
	for i, seat := range engineSeats {
		agent := o.opts.Agents[m.Agents[i]]
		seats[seat] = SeatBinding{
			AgentName:   agent.Name,
			Adapter:     agent.Adapter,
			MaxTokens:   agent.MaxTokens,
			Temperature: agent.Temperature,
			ShotClock:   agent.Timeout,
		}
	}

	logger, err := telemetry.NewLogger(o.opts.OutputDir, m.ID, o.opts.Sink, o.opts.Live)
	if err != nil {
		return telemetry.MatchSummary{}, err
	}

	ref := referee.New(engineSeats, o.opts.Referee)
	runner, err := NewRunner(m, engine, ref, logger, seats)
	if err != nil {
		_ = logger.Close(ctx)
		return telemetry.MatchSummary{}, err
	}

	log.Infof(ctx, "match %s: starting (seed %d)", m.ID, m.Seed)
	runErr := runner.Run(ctx)
	if cerr := logger.Close(ctx); cerr != nil && runErr == nil {
		runErr = cerr
	}
	sum := runner.Summary()
	sum.MatchID = m.ID
	return sum, runErr
}
