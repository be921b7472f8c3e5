// signald is the line-movement signal daemon. It ingests sportsbook quotes,
// detects sharp odds movement, resolves tradable instruments, grades net
// edge, and writes recommended bets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/oddsworks/linesignal/pkg/clob"
	"github.com/oddsworks/linesignal/pkg/config"
	"github.com/oddsworks/linesignal/pkg/feed"
	"github.com/oddsworks/linesignal/pkg/gamma"
	"github.com/oddsworks/linesignal/pkg/metrics"
	"github.com/oddsworks/linesignal/pkg/odds"
	"github.com/oddsworks/linesignal/pkg/pipeline"
	"github.com/oddsworks/linesignal/pkg/resolver"
	"github.com/oddsworks/linesignal/pkg/store"
	"github.com/oddsworks/linesignal/pkg/teams"
)

var configPath = flag.String("config", "signald.yaml", "Path to the daemon configuration file")

// sharpSources are the books whose quotes carry extra weight in consensus
// and confidence scoring.
var sharpSources = map[string]bool{
	"pinnacle":  true,
	"circa":     true,
	"bookmaker": true,
}

// sportTagIDs maps league keys to metadata API tag ids for event search.
var sportTagIDs = map[string]string{
	"EPL": "82",
	"NBA": "745",
	"NFL": "450",
	"MLB": "100381",
	"NHL": "100149",
}

func main() {
	flag.Parse()

	cfg, err := config.LoadDaemon(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	log.Info().Str("core_version", cfg.Pipeline.CoreVersion).Msg("starting signald")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("daemon init failed")
	}
	defer d.store.Close()

	if cfg.Metrics.Enabled {
		go d.serveMetrics(ctx, cfg.Metrics.Addr)
	}
	if cfg.Feed.URL != "" {
		go func() {
			if err := d.subscriber.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("feed terminated")
			}
		}()
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Pipeline.DetectSchedule, func() { d.runDetect(ctx) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Pipeline.DetectSchedule).Msg("bad detect schedule")
	}
	if _, err := sched.AddFunc(cfg.Pipeline.RefreshSchedule, func() { d.runRefresh(ctx) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Pipeline.RefreshSchedule).Msg("bad refresh schedule")
	}
	sched.Start()

	log.Info().
		Str("detect", cfg.Pipeline.DetectSchedule).
		Str("refresh", cfg.Pipeline.RefreshSchedule).
		Msg("signald running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	<-sched.Stop().Done()
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

type daemon struct {
	cfg        *config.Daemon
	log        zerolog.Logger
	store      *store.Store
	clobClient *clob.Client
	gammaAPI   *gamma.Client
	pipe       *pipeline.Pipeline
	subscriber *feed.Subscriber
	resolver   *resolver.Resolver
	metrics    *metrics.PipelineMetrics
}

func newDaemon(ctx context.Context, cfg *config.Daemon, log zerolog.Logger) (*daemon, error) {
	version, err := config.DefaultRegistry().Get(cfg.Pipeline.CoreVersion)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.APIs.Timeout}
	clobClient := clob.NewClient(
		clob.WithBaseURL(cfg.APIs.ClobURL),
		clob.WithHTTPClient(httpClient),
	)
	gammaAPI := gamma.NewClient(
		gamma.WithBaseURL(cfg.APIs.GammaURL),
		gamma.WithHTTPClient(httpClient),
	)

	teamResolver := teams.NewResolver()
	if err := loadTeams(ctx, gammaAPI, teamResolver); err != nil {
		// The gate holds unmatched teams at WATCH, so startup continues.
		log.Warn().Err(err).Msg("team table load failed")
	} else {
		log.Info().Int("teams", teamResolver.TeamCount()).Msg("team table loaded")
	}
	failures := teams.NewFailureLog(teamResolver, st)

	res := resolver.New(nil, []resolver.Extractor{
		&resolver.DirectLookup{Client: clobClient},
		&resolver.MetadataSearch{Client: gammaAPI, SportTags: sportTagIDs},
		&resolver.PageScrape{HTTPClient: httpClient},
		&resolver.FuzzySearch{Client: clobClient, MaxPages: 20},
	}, st, log)

	pm := metrics.NewPipelineMetrics()

	d := &daemon{
		cfg:        cfg,
		log:        log,
		store:      st,
		clobClient: clobClient,
		gammaAPI:   gammaAPI,
		resolver:   res,
		metrics:    pm,
	}

	d.pipe, err = pipeline.New(pipeline.Deps{
		Version:   version,
		Store:     st,
		Resolver:  res,
		Teams:     teamResolver,
		Failures:  failures,
		Liquidity: d.liquidityFor,
		Price:     d.priceFor,
		Metrics:   pm,
		Bankroll:  decimal.NewFromFloat(cfg.Pipeline.Bankroll),
		Workers:   cfg.Pipeline.ResolverWorkers,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Feed.URL != "" {
		fc := feed.DefaultFeedConfig(cfg.Feed.URL)
		if cfg.Feed.ReconnectDelay > 0 {
			fc.ReconnectMinDelay = cfg.Feed.ReconnectDelay
		}
		if cfg.Feed.PingInterval > 0 {
			fc.PingInterval = cfg.Feed.PingInterval
		}
		fc.OnReconnect = pm.FeedReconnects.Inc
		normalizer := &feed.Normalizer{SharpSources: sharpSources}
		d.subscriber = feed.NewSubscriber(fc, normalizer, d.ingestQuote, log)
	}

	return d, nil
}

// ingestQuote persists one feed quote.
func (d *daemon) ingestQuote(q odds.Quote) {
	if err := d.store.InsertQuotes([]odds.Quote{q}); err != nil {
		d.log.Error().Err(err).Str("market_key", q.MarketKey).Msg("quote insert failed")
		return
	}
	d.metrics.RecordQuote(q.SourceID, q.Sharp)
}

// liquidityFor resolves a market key to its instrument and sums its top book
// levels into a notional liquidity estimate.
func (d *daemon) liquidityFor(ctx context.Context, marketKey string) (decimal.Decimal, error) {
	ref, err := odds.ParseKey(marketKey)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := d.resolver.Resolve(ctx, resolver.Query{
		HomeTeam: ref.HomeTeam,
		AwayTeam: ref.AwayTeam,
		Sport:    ref.League,
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !res.Tradeable {
		return decimal.Zero, fmt.Errorf("no tradable instrument for %s", marketKey)
	}
	book, err := d.clobClient.GetOrderBook(ctx, res.TokenA)
	if err != nil {
		return decimal.Zero, err
	}
	return clob.BookDepth(book), nil
}

// priceFor returns the best quoted ask for an outcome token, the price a
// taker would actually pay right now.
func (d *daemon) priceFor(ctx context.Context, tokenID string) (float64, error) {
	book, err := d.clobClient.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	return clob.BestAsk(book), nil
}

// health probes the market-data providers with cheap list calls.
func (d *daemon) health(ctx context.Context) pipeline.ProviderHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h := pipeline.ProviderHealth{Configured: 2}
	if _, err := d.clobClient.ListMarkets(probeCtx, ""); err == nil {
		h.Reachable++
	}
	if _, err := d.gammaAPI.ListEvents(probeCtx, &gamma.EventsFilter{Limit: 1}); err == nil {
		h.Reachable++
	}
	return h
}

func (d *daemon) runDetect(ctx context.Context) {
	if _, err := d.pipe.DetectCycle(ctx, d.health(ctx), time.Now().UTC()); err != nil {
		d.log.Error().Err(err).Msg("detect cycle failed")
		d.metrics.RecordCycle("detect", "error", 0)
	}
}

func (d *daemon) runRefresh(ctx context.Context) {
	if _, err := d.pipe.RefreshCycle(ctx, d.health(ctx), time.Now().UTC()); err != nil {
		d.log.Error().Err(err).Msg("refresh cycle failed")
		d.metrics.RecordCycle("refresh", "error", 0)
	}
}

func (d *daemon) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/failures", func(w http.ResponseWriter, r *http.Request) {
		failures, err := d.store.OpenTeamFailures()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(failures)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	d.log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		d.log.Error().Err(err).Msg("metrics server error")
	}
}

// loadTeams seeds the canonical team table from the metadata API.
func loadTeams(ctx context.Context, client *gamma.Client, resolver *teams.Resolver) error {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	entries, err := client.ListTeams(loadCtx)
	if err != nil {
		return err
	}
	loaded := make([]teams.Team, 0, len(entries))
	for _, e := range entries {
		team := teams.Team{
			ID:           strconv.Itoa(e.ID),
			Name:         e.Name,
			Abbreviation: e.Abbreviation,
			League:       e.League,
		}
		if e.Alias != nil && *e.Alias != "" {
			team.Aliases = []string{*e.Alias}
		}
		loaded = append(loaded, team)
	}
	resolver.Load(loaded)
	return nil
}
