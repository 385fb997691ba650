package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/log"

	"github.com/tourneylab/tourney/referee"
)

// Collection names in the document store.
const (
	turnsCollection       = "turns"
	matchesCollection     = "matches"
	modelsCollection      = "models"
	tournamentsCollection = "tournaments"
)

// insertCollection and updateCollection capture the driver subset the sink
// uses, so unit tests can substitute fakes. *mongo.Collection satisfies
// both.
type insertCollection interface {
	InsertMany(ctx context.Context, documents any, opts ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error)
}

type updateCollection interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
}

// SinkOptions tunes the document sink. Zero values select the defaults.
type SinkOptions struct {
	// QueueSize bounds the in-memory queue. Overflow drops the newest
	// records with a warning rather than blocking the match loop.
	// Defaults to 10000.
	QueueSize int

	// BatchSize caps how many queued records one write round drains.
	// Defaults to 50.
	BatchSize int

	// StorePrompts stores prompt text verbatim in turn documents. Off by
	// default: prompts can carry proprietary evaluation text, so only a
	// salted hash and the character count are stored.
	StorePrompts bool

	// PromptSalt feeds the prompt hash when StorePrompts is off.
	PromptSalt string

	// Database name. Defaults to "tourney".
	Database string
}

type envelope struct {
	turn  *TurnRecord
	match *matchDocument
}

// Sink is the asynchronous document store writer. A single background
// goroutine drains a bounded queue and performs batched writes; write
// errors are logged and dropped, never surfaced to the match loop. When
// the store is unreachable at startup the sink is disabled and every
// operation no-ops.
type Sink struct {
	client   *mongo.Client
	turns    insertCollection
	matches  updateCollection
	models   updateCollection
	runs     updateCollection
	queue    chan envelope
	opts     SinkOptions
	disabled bool
	wg       sync.WaitGroup

	dropWarned sync.Once
}

// matchDocument is the matches-collection shape, upserted by match_id.
type matchDocument struct {
	MatchID        string             `bson:"match_id"`
	Event          string             `bson:"event"`
	FinalScores    map[string]float64 `bson:"final_scores"`
	FidelityReport referee.Report     `bson:"fidelity_report"`
	Ruling         string             `bson:"ruling"`
	PlayerModels   map[string]string  `bson:"player_models"`
	Winner         string             `bson:"winner,omitempty"`
	HighlightHands []int              `bson:"highlight_hands,omitempty"`
	EngineVersion  string             `bson:"engine_version,omitempty"`
	DurationMS     int64              `bson:"duration_ms"`
	SchemaVersion  string             `bson:"schema_version"`
	FinishedAt     time.Time          `bson:"finished_at"`
}

// TournamentDocument is the per-run record in the tournaments collection.
type TournamentDocument struct {
	RunID      string    `bson:"_id"`
	Name       string    `bson:"name"`
	Version    string    `bson:"version,omitempty"`
	Seed       int64     `bson:"seed"`
	Matches    int       `bson:"matches"`
	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at,omitempty"`
}

// NewSink connects to the document store and starts the background writer.
// When the store does not answer a ping the sink comes up disabled: the
// tournament runs on the file sink alone.
func NewSink(ctx context.Context, uri string, opts SinkOptions) (*Sink, error) {
	applySinkDefaults(&opts)
	s := &Sink{opts: opts, queue: make(chan envelope, opts.QueueSize)}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Warnf(ctx, "document sink disabled: connect: %v", err)
		s.disabled = true
		return s, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		log.Warnf(ctx, "document sink disabled: store unreachable: %v", err)
		_ = client.Disconnect(ctx)
		s.disabled = true
		return s, nil
	}

	db := client.Database(opts.Database)
	s.client = client
	turns := db.Collection(turnsCollection)
	s.turns = turns
	s.matches = db.Collection(matchesCollection)
	s.models = db.Collection(modelsCollection)
	s.runs = db.Collection(tournamentsCollection)

	if err := ensureIndexes(ctx, turns, db.Collection(matchesCollection)); err != nil {
		log.Warnf(ctx, "document sink: create indexes: %v", err)
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// newSinkWithCollections wires fakes for unit tests.
func newSinkWithCollections(ctx context.Context, turns insertCollection, matches, models, runs updateCollection, opts SinkOptions) *Sink {
	applySinkDefaults(&opts)
	s := &Sink{
		turns:   turns,
		matches: matches,
		models:  models,
		runs:    runs,
		queue:   make(chan envelope, opts.QueueSize),
		opts:    opts,
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

func applySinkDefaults(opts *SinkOptions) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Database == "" {
		opts.Database = "tourney"
	}
}

func ensureIndexes(ctx context.Context, turns, matches *mongo.Collection) error {
	_, err := turns.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "match_id", Value: 1}}},
		{Keys: bson.D{{Key: "model_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "match_id", Value: 1}, {Key: "turn_number", Value: 1}}},
		{
			Keys: bson.D{
				{Key: "match_id", Value: 1},
				{Key: "turn_number", Value: 1},
				{Key: "hand_number", Value: 1},
				{Key: "seat_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return err
	}
	_, err = matches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "match_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

// Disabled reports whether the sink is a no-op.
func (s *Sink) Disabled() bool { return s.disabled }

// hashPrompt replaces prompt text with its salted hash and length.
func hashPrompt(rec *TurnRecord, salt string) {
	sum := sha256.Sum256([]byte(salt + rec.Prompt))
	rec.PromptHash = hex.EncodeToString(sum[:])
	rec.PromptChars = len(rec.Prompt)
	rec.Prompt = ""
}

// EventFromMatchID extracts the event name from a match identifier of the
// form "<event>-<hash>".
func EventFromMatchID(matchID string) string {
	if i := strings.IndexByte(matchID, '-'); i > 0 {
		return matchID[:i]
	}
	return matchID
}

// EnqueueTurn queues a turn document. Never blocks: on overflow the record
// is dropped with a warning because the file sink already holds it.
func (s *Sink) EnqueueTurn(ctx context.Context, rec TurnRecord) {
	if s.disabled {
		return
	}
	rec.SchemaVersion = DocSchemaVersion
	if !s.opts.StorePrompts && rec.Prompt != "" {
		hashPrompt(&rec, s.opts.PromptSalt)
	}
	s.offer(ctx, envelope{turn: &rec})
}

func (s *Sink) matchDoc(sum MatchSummary) *matchDocument {
	doc := &matchDocument{
		MatchID:        sum.MatchID,
		Event:          sum.Event,
		FinalScores:    sum.FinalScores,
		FidelityReport: sum.FidelityReport,
		Ruling:         sum.Ruling,
		PlayerModels:   sum.PlayerModels,
		Winner:         NormalizeModelName(sum.Winner()),
		HighlightHands: sum.HighlightHands,
		EngineVersion:  sum.EngineVersion,
		DurationMS:     sum.DurationMS,
		SchemaVersion:  DocSchemaVersion,
		FinishedAt:     sum.Timestamp,
	}
	if doc.Event == "" {
		doc.Event = EventFromMatchID(sum.MatchID)
	}
	return doc
}

// EnqueueMatch queues the match document and its per-model aggregate
// updates.
func (s *Sink) EnqueueMatch(ctx context.Context, sum MatchSummary) {
	if s.disabled {
		return
	}
	s.offer(ctx, envelope{match: s.matchDoc(sum)})
}

// EnqueueMatchSync writes the match document immediately, bypassing the
// queue. Used by backfill where ordering against the turn inserts matters.
func (s *Sink) EnqueueMatchSync(ctx context.Context, sum MatchSummary) {
	if s.disabled {
		return
	}
	s.writeMatch(ctx, s.matchDoc(sum))
}

func (s *Sink) offer(ctx context.Context, env envelope) {
	select {
	case s.queue <- env:
	default:
		s.dropWarned.Do(func() {
			log.Warnf(ctx, "document sink queue full, dropping records")
		})
	}
}

// UpsertTournament writes the per-run document synchronously.
func (s *Sink) UpsertTournament(ctx context.Context, doc TournamentDocument) {
	if s.disabled {
		return
	}
	_, err := s.runs.UpdateOne(ctx,
		bson.M{"_id": doc.RunID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Warnf(ctx, "document sink: upsert tournament %s: %v", doc.RunID, err)
	}
}

// Close drains the queue and disconnects. Call after every match has
// finalized.
func (s *Sink) Close(ctx context.Context) {
	if s.disabled {
		return
	}
	close(s.queue)
	s.wg.Wait()
	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			log.Warnf(ctx, "document sink: disconnect: %v", err)
		}
	}
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()
	batch := make([]envelope, 0, s.opts.BatchSize)
	for env := range s.queue {
		batch = append(batch[:0], env)
		for len(batch) < s.opts.BatchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					s.flush(ctx, batch)
					return
				}
				batch = append(batch, next)
			default:
				goto write
			}
		}
	write:
		s.flush(ctx, batch)
	}
}

// flush writes one drained batch: turns grouped into a single unordered
// insert, matches upserted individually with their model aggregates.
func (s *Sink) flush(ctx context.Context, batch []envelope) {
	var turns []any
	for _, env := range batch {
		if env.turn != nil {
			turns = append(turns, env.turn)
		}
	}
	if len(turns) > 0 {
		_, err := s.turns.InsertMany(ctx, turns, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			log.Warnf(ctx, "document sink: insert %d turns: %v", len(turns), err)
		}
	}
	for _, env := range batch {
		if env.match == nil {
			continue
		}
		s.writeMatch(ctx, env.match)
	}
}

func (s *Sink) writeMatch(ctx context.Context, doc *matchDocument) {
	_, err := s.matches.UpdateOne(ctx,
		bson.M{"match_id": doc.MatchID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Warnf(ctx, "document sink: upsert match %s: %v", doc.MatchID, err)
		return
	}
	s.updateModelAggregates(ctx, doc)
}

func (s *Sink) updateModelAggregates(ctx context.Context, doc *matchDocument) {
	for seat, model := range doc.PlayerModels {
		model = NormalizeModelName(model)
		if model == "" {
			continue
		}
		wins, losses, draws := 0, 0, 1
		if doc.Winner != "" {
			if model == doc.Winner {
				wins, draws = 1, 0
			} else {
				losses, draws = 1, 0
			}
		}
		violations := doc.FidelityReport.Seats[seat].TotalViolations

		inc := bson.M{
			"total_matches":                   1,
			"wins":                            wins,
			"losses":                          losses,
			"draws":                           draws,
			"games." + doc.Event + ".matches": 1,
			"games." + doc.Event + ".wins":    wins,
			"games." + doc.Event + ".losses":  losses,
			"games." + doc.Event + ".draws":   draws,
			"total_violations":                violations,
		}
		_, err := s.models.UpdateOne(ctx,
			bson.M{"_id": model},
			bson.M{"$inc": inc, "$set": bson.M{"last_played": doc.FinishedAt}},
			options.UpdateOne().SetUpsert(true))
		if err != nil {
			log.Warnf(ctx, "document sink: update model %s: %v", model, err)
		}
	}
}
