// Package config loads and validates the YAML tournament configuration and
// wires it into runnable orchestrator options.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tourneylab/tourney/adapter"
	"github.com/tourneylab/tourney/game"
	"github.com/tourneylab/tourney/game/holdem"
	"github.com/tourneylab/tourney/referee"
	"github.com/tourneylab/tourney/tournament"
)

// Defaults applied when compute_caps or per-model fields are omitted.
const (
	DefaultMaxOutputTokens = 512
	DefaultTimeoutS        = 30.0
)

// Config is the full tournament document.
type Config struct {
	Tournament  Tournament       `yaml:"tournament"`
	Models      map[string]Model `yaml:"models"`
	Events      map[string]Event `yaml:"events"`
	ComputeCaps ComputeCaps      `yaml:"compute_caps"`

	// StorePrompts stores verbatim prompts in the document sink instead of
	// hashes.
	StorePrompts bool `yaml:"store_prompts"`
}

// Tournament identifies a run.
type Tournament struct {
	Name    string `yaml:"name"`
	Seed    int64  `yaml:"seed"`
	Version string `yaml:"version"`
}

// Model configures one agent.
type Model struct {
	Provider          string  `yaml:"provider"`
	ModelID           string  `yaml:"model_id"`
	Strategy          string  `yaml:"strategy"`
	Temperature       float64 `yaml:"temperature"`
	MaxOutputTokens   int     `yaml:"max_output_tokens"`
	TimeoutS          float64 `yaml:"timeout_s"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	SiteURL           string  `yaml:"site_url"`
	AppName           string  `yaml:"app_name"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// Event configures one game type. The holdem parameters are ignored by
// other engines.
type Event struct {
	Weight       float64    `yaml:"weight"`
	Rounds       int        `yaml:"rounds"`
	Format       string     `yaml:"format"`
	Participants []string   `yaml:"participants"`
	Matchups     [][]string `yaml:"matchups"`

	Players       int          `yaml:"players"`
	HandsPerMatch int          `yaml:"hands_per_match"`
	StartingStack int          `yaml:"starting_stack"`
	SmallBlind    int          `yaml:"small_blind"`
	BigBlind      int          `yaml:"big_blind"`
	BlindSchedule []BlindLevel `yaml:"blind_schedule"`
}

// BlindLevel raises the blinds starting at the given hand.
type BlindLevel struct {
	Hand  int `yaml:"hand"`
	Small int `yaml:"small"`
	Big   int `yaml:"big"`
}

// ComputeCaps holds global defaults and referee tuning.
type ComputeCaps struct {
	MaxOutputTokens       int      `yaml:"max_output_tokens"`
	TimeoutS              float64  `yaml:"timeout_s"`
	MatchForfeitThreshold int      `yaml:"match_forfeit_threshold"`
	StrikeViolationKinds  []string `yaml:"strike_violation_kinds"`
}

var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// Load reads and validates a configuration file. Unknown fields are
// rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Tournament.Name == "" {
		return fmt.Errorf("config: tournament.name is required")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("config: at least one event is required")
	}
	for name := range c.Models {
		if !nameRE.MatchString(name) {
			return fmt.Errorf("config: model name %q must match %s", name, nameRE)
		}
	}
	for name, ev := range c.Events {
		if !nameRE.MatchString(name) {
			return fmt.Errorf("config: event name %q must match %s", name, nameRE)
		}
		if ev.Weight < 0 {
			return fmt.Errorf("config: event %s: weight must not be negative", name)
		}
		if ev.Players != 0 && (ev.Players < 2 || ev.Players > 9) {
			return fmt.Errorf("config: event %s: players must be between 2 and 9", name)
		}
		for _, agent := range ev.Participants {
			if _, ok := c.Models[agent]; !ok {
				return fmt.Errorf("config: event %s references unknown model %q", name, agent)
			}
		}
		for _, matchup := range ev.Matchups {
			for _, agent := range matchup {
				if _, ok := c.Models[agent]; !ok {
					return fmt.Errorf("config: event %s references unknown model %q", name, agent)
				}
			}
		}
	}
	return nil
}

// ModelNames returns the configured agent names in sorted order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RefereeOptions converts compute_caps into referee tuning.
func (c *Config) RefereeOptions() referee.Options {
	opts := referee.Options{
		MatchForfeitThreshold: c.ComputeCaps.MatchForfeitThreshold,
	}
	for _, k := range c.ComputeCaps.StrikeViolationKinds {
		opts.StrikeKinds = append(opts.StrikeKinds, referee.ViolationKind(k))
	}
	return opts
}

func (c *Config) agentFor(name string, m Model) (tournament.Agent, error) {
	a, err := adapter.New(adapter.Config{
		Name:              name,
		Provider:          m.Provider,
		ModelID:           m.ModelID,
		Strategy:          m.Strategy,
		APIKeyEnv:         m.APIKeyEnv,
		BaseURL:           m.BaseURL,
		SiteURL:           m.SiteURL,
		AppName:           m.AppName,
		RequestsPerMinute: m.RequestsPerMinute,
	})
	if err != nil {
		return tournament.Agent{}, fmt.Errorf("config: model %s: %w", name, err)
	}

	maxTokens := m.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = c.ComputeCaps.MaxOutputTokens
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	timeout := m.TimeoutS
	if timeout == 0 {
		timeout = c.ComputeCaps.TimeoutS
	}
	if timeout == 0 {
		timeout = DefaultTimeoutS
	}
	return tournament.Agent{
		Name:        name,
		Adapter:     a,
		MaxTokens:   maxTokens,
		Temperature: m.Temperature,
		Timeout:     time.Duration(timeout * float64(time.Second)),
	}, nil
}

func (c *Config) tournamentEvent(name string, ev Event) (tournament.Event, error) {
	players := ev.Players
	if players == 0 {
		players = 2
	}
	holdemOpts := holdem.Options{
		Players:       players,
		HandsPerMatch: ev.HandsPerMatch,
		StartingStack: ev.StartingStack,
		SmallBlind:    ev.SmallBlind,
		BigBlind:      ev.BigBlind,
	}
	for _, lvl := range ev.BlindSchedule {
		holdemOpts.BlindSchedule = append(holdemOpts.BlindSchedule, holdem.BlindLevel(lvl))
	}
	// Constructor errors surface before the schedule is built.
	if _, err := holdem.New(holdemOpts); err != nil {
		return tournament.Event{}, fmt.Errorf("config: event %s: %w", name, err)
	}

	format := ev.Format
	if format == "" {
		format = tournament.FormatRoundRobin
	}
	participants := ev.Participants
	if len(participants) == 0 && format != tournament.FormatExplicit {
		participants = c.ModelNames()
	}
	rounds := ev.Rounds
	if rounds == 0 {
		rounds = 1
	}
	weight := ev.Weight
	if weight == 0 {
		weight = 1
	}
	return tournament.Event{
		Name:         name,
		Format:       format,
		Rounds:       rounds,
		Weight:       weight,
		Participants: participants,
		TableSize:    players,
		Matchups:     ev.Matchups,
		NewEngine: func() (game.Engine, error) {
			return holdem.New(holdemOpts)
		},
	}, nil
}

// Build wires the configuration into orchestrator options. Adapter
// construction fails fast here on missing credentials or unknown
// providers and strategies.
func (c *Config) Build(outputDir string, maxParallel int) (tournament.Options, error) {
	agents := make(map[string]tournament.Agent, len(c.Models))
	for _, name := range c.ModelNames() {
		agent, err := c.agentFor(name, c.Models[name])
		if err != nil {
			return tournament.Options{}, err
		}
		agents[name] = agent
	}

	eventNames := make([]string, 0, len(c.Events))
	for name := range c.Events {
		eventNames = append(eventNames, name)
	}
	sort.Strings(eventNames)
	events := make([]tournament.Event, 0, len(eventNames))
	for _, name := range eventNames {
		ev, err := c.tournamentEvent(name, c.Events[name])
		if err != nil {
			return tournament.Options{}, err
		}
		events = append(events, ev)
	}

	return tournament.Options{
		Name:        c.Tournament.Name,
		Version:     c.Tournament.Version,
		Seed:        c.Tournament.Seed,
		OutputDir:   outputDir,
		MaxParallel: maxParallel,
		Agents:      agents,
		Events:      events,
		Referee:     c.RefereeOptions(),
	}, nil
}
