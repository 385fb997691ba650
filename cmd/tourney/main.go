// Command tourney runs a reproducible LLM game tournament from a YAML
// configuration. Every match leaves a durable JSONL log; with
// TOURNEY_STORE_URI set the run is mirrored into a Mongo document store,
// and with TOURNEY_LIVE_REDIS set turns stream to Redis for spectators.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goa.design/clue/log"

	"github.com/tourneylab/tourney/config"
	"github.com/tourneylab/tourney/telemetry"
	"github.com/tourneylab/tourney/tournament"
)

func main() {
	var (
		configF   = flag.String("config", "tourney.yaml", "Tournament configuration file")
		outputF   = flag.String("output", "logs", "Directory for durable match logs")
		parallelF = flag.Int("parallel", 1, "Maximum concurrent matches")
		backfillF = flag.String("backfill", "", "Replay a match log file into the document store and exit")
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configF, *outputF, *parallelF, *backfillF); err != nil {
		log.Errorf(ctx, err, "tournament failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, outputDir string, parallel int, backfillPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var sink *telemetry.Sink
	if uri := os.Getenv("TOURNEY_STORE_URI"); uri != "" {
		sink, err = telemetry.NewSink(ctx, uri, telemetry.SinkOptions{StorePrompts: cfg.StorePrompts})
		if err != nil {
			return err
		}
		defer sink.Close(ctx)
	} else {
		log.Infof(ctx, "TOURNEY_STORE_URI not set, document sink disabled")
	}

	if backfillPath != "" {
		if sink == nil {
			return fmt.Errorf("backfill requires TOURNEY_STORE_URI")
		}
		return telemetry.Backfill(ctx, sink, backfillPath)
	}

	var live *telemetry.LiveFeed
	if addr := os.Getenv("TOURNEY_LIVE_REDIS"); addr != "" {
		live = telemetry.NewLiveFeed(ctx, addr)
		defer live.Close()
	}

	opts, err := cfg.Build(outputDir, parallel)
	if err != nil {
		return err
	}
	opts.Sink = sink
	opts.Live = live

	orch, err := tournament.New(opts)
	if err != nil {
		return err
	}
	res, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	for _, row := range res.Standings {
		log.Print(ctx,
			log.KV{K: "model", V: row.Model},
			log.KV{K: "league_points", V: row.LeaguePoints},
			log.KV{K: "wins", V: row.Wins},
			log.KV{K: "losses", V: row.Losses},
			log.KV{K: "draws", V: row.Draws},
			log.KV{K: "chips", V: row.Chips},
		)
	}
	if res.Failed() {
		return fmt.Errorf("%d match(es) aborted with engine errors", res.EngineErrors)
	}
	return nil
}
