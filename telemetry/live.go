package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
)

// liveStreamMaxLen caps each per-match stream so an abandoned consumer
// cannot grow Redis without bound.
const liveStreamMaxLen = 10000

// LiveFeed mirrors telemetry records onto per-match Redis streams for
// spectator UIs. Every failure is warn-and-continue: the feed is an
// optional convenience, never part of the audit trail.
type LiveFeed struct {
	rdb      *redis.Client
	disabled bool
}

// NewLiveFeed connects to Redis at addr. An unreachable server disables
// the feed rather than failing the run.
func NewLiveFeed(ctx context.Context, addr string) *LiveFeed {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warnf(ctx, "live feed disabled: redis unreachable: %v", err)
		_ = rdb.Close()
		return &LiveFeed{disabled: true}
	}
	return &LiveFeed{rdb: rdb}
}

func streamKey(matchID string) string { return "tourney:live:" + matchID }

// PublishTurn appends a turn record to the match stream.
func (f *LiveFeed) PublishTurn(ctx context.Context, rec TurnRecord) {
	f.publish(ctx, rec.MatchID, rec)
}

// PublishSummary appends the terminal summary to the match stream.
func (f *LiveFeed) PublishSummary(ctx context.Context, sum MatchSummary) {
	f.publish(ctx, sum.MatchID, sum)
}

func (f *LiveFeed) publish(ctx context.Context, matchID string, rec any) {
	if f.disabled {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Warnf(ctx, "live feed: marshal record for %s: %v", matchID, err)
		return
	}
	err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(matchID),
		MaxLen: liveStreamMaxLen,
		Approx: true,
		Values: map[string]any{"record": payload},
	}).Err()
	if err != nil {
		log.Warnf(ctx, "live feed: publish to %s: %v", matchID, err)
	}
}

// Close releases the Redis connection.
func (f *LiveFeed) Close() {
	if f.rdb != nil {
		_ = f.rdb.Close()
	}
}
