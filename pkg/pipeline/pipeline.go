// Package pipeline orchestrates the detection and recommendation cycles over
// the shared store. Each stage is a stateless request/response unit; the only
// shared mutable resource is the signal table, written through dedupe-key
// upserts.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/oddsworks/linesignal/pkg/config"
	"github.com/oddsworks/linesignal/pkg/execution"
	"github.com/oddsworks/linesignal/pkg/metrics"
	"github.com/oddsworks/linesignal/pkg/movement"
	"github.com/oddsworks/linesignal/pkg/odds"
	"github.com/oddsworks/linesignal/pkg/portfolio"
	"github.com/oddsworks/linesignal/pkg/resolver"
	"github.com/oddsworks/linesignal/pkg/signal"
	"github.com/oddsworks/linesignal/pkg/store"
	"github.com/oddsworks/linesignal/pkg/teams"
)

// ProviderHealth describes the liquidity-data providers at cycle time.
type ProviderHealth struct {
	Configured int
	Reachable  int
	Disagree   bool
}

// LiquidityFunc returns the current notional liquidity for a market key.
// A nil func leaves liquidity at the signal's stored estimate.
type LiquidityFunc func(ctx context.Context, marketKey string) (decimal.Decimal, error)

// PriceFunc returns the venue's current quoted price for an outcome token as
// a probability in (0,1). A nil func grades edge against the signal's stored
// book probability.
type PriceFunc func(ctx context.Context, tokenID string) (float64, error)

// Deps wires the pipeline's collaborators.
type Deps struct {
	Version   *config.CoreVersion
	Store     *store.Store
	Resolver  *resolver.Resolver
	Teams     *teams.Resolver
	Failures  signal.TeamFailureLogger
	Liquidity LiquidityFunc
	Price     PriceFunc
	Metrics   *metrics.PipelineMetrics
	Bankroll  decimal.Decimal
	Workers   int // concurrent instrument resolutions per refresh cycle
	Log       zerolog.Logger
}

// Pipeline runs detection and recommendation cycles under one frozen core
// version.
type Pipeline struct {
	version   *config.CoreVersion
	estimator *odds.Estimator
	detector  *movement.Detector
	builder   *signal.Builder
	gate      *signal.Gate
	engine    *execution.Engine
	sizer     *portfolio.Sizer
	selector  *portfolio.Selector
	score     *portfolio.ScoreConfig

	store     *store.Store
	resolver  *resolver.Resolver
	teams     *teams.Resolver
	liquidity LiquidityFunc
	price     PriceFunc
	metrics   *metrics.PipelineMetrics
	bankroll  decimal.Decimal
	workers   int
	log       zerolog.Logger
}

// New builds a pipeline from its dependencies. The core version is fixed for
// the pipeline's lifetime; running a new tuning means building a new
// pipeline against a new registered version.
func New(d Deps) (*Pipeline, error) {
	if d.Version == nil {
		return nil, fmt.Errorf("core version is required")
	}
	if d.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	estimator := odds.NewEstimator(d.Version.Estimator)
	return &Pipeline{
		version:   d.Version,
		estimator: estimator,
		detector:  movement.NewDetector(d.Version.Detector, estimator),
		builder:   signal.NewBuilder(d.Version.Builder, d.Version.Name),
		gate:      signal.NewGate(d.Version.Gate, d.Failures, d.Log),
		engine:    execution.NewEngine(d.Version.Execution),
		sizer:     portfolio.NewSizer(d.Version.Sizer),
		selector:  portfolio.NewSelector(d.Version.Selector),
		score:     d.Version.Score,
		store:     d.Store,
		resolver:  d.Resolver,
		teams:     d.Teams,
		liquidity: d.Liquidity,
		price:     d.Price,
		metrics:   d.Metrics,
		bankroll:  d.Bankroll,
		workers:   d.Workers,
		log:       d.Log,
	}, nil
}

// CycleReport is the structured outcome of one cycle. A cycle that accepts
// nothing still explains why through the rejection counts.
type CycleReport struct {
	Cycle       string         `json:"cycle"`
	CoreVersion string         `json:"core_version"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Processed   int            `json:"processed"`
	Accepted    int            `json:"accepted"`
	Rejections  map[string]int `json:"rejections_by_reason"`
	Errors      int            `json:"errors"`
}

func (r *CycleReport) reject(reason string) {
	r.Rejections[reason]++
}

// DetectCycle scans recent quote windows, emits movement events, and runs
// candidates through the builder and the quality gate. A failed unit of work
// is logged and skipped without aborting the batch.
func (p *Pipeline) DetectCycle(ctx context.Context, health ProviderHealth, now time.Time) (*CycleReport, error) {
	report := &CycleReport{
		Cycle:       "detect",
		CoreVersion: p.version.Name,
		StartedAt:   now,
		Rejections:  make(map[string]int),
	}

	window := p.version.Detector.Window
	keys, err := p.store.MarketKeys(now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list market keys: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.detectOne(ctx, key, health, now, report); err != nil {
			report.Errors++
			p.log.Error().Err(err).Str("market_key", key).Msg("detection unit failed")
		}
	}

	report.Duration = time.Since(now)
	if p.metrics != nil {
		p.metrics.RecordCycle("detect", "ok", report.Duration.Seconds())
	}
	p.logReport(report)
	return report, nil
}

func (p *Pipeline) detectOne(ctx context.Context, key string, health ProviderHealth, now time.Time, report *CycleReport) error {
	ref, err := odds.ParseKey(key)
	if err != nil {
		return err
	}

	quotes, err := p.store.QuotesSince(key, now.Add(-p.version.Detector.Window))
	if err != nil {
		return err
	}

	ev := p.detector.Detect(ref, quotes, now)
	if ev == nil {
		return nil
	}
	report.Processed++
	if p.metrics != nil {
		p.metrics.RecordMovement(string(ev.Direction))
	}

	liquidity := decimal.Zero
	if p.liquidity != nil {
		liq, err := p.liquidity(ctx, key)
		if err != nil {
			// Provider failure degrades liquidity to zero; the confidence
			// penalty and the S2 liquidity floor take it from there.
			p.log.Warn().Err(err).Str("market_key", key).Msg("liquidity lookup failed")
		} else {
			liquidity = liq
		}
	}

	existing, err := p.store.SignalByDedupeKey(ev.Ref.Key())
	if err != nil {
		return err
	}

	result := p.builder.Build(ev, liquidity, existing, now)
	if p.metrics != nil {
		p.metrics.SignalsTotal.WithLabelValues(string(result.Action)).Inc()
	}

	env := p.environment(ref, quotes, health, now)

	var tr *signal.Transition
	switch result.Action {
	case signal.ActionSuppress:
		tr = p.gate.AutoPromote(result.Signal, result.Update, env, now)
		if tr == nil {
			report.reject("suppressed_within_cooldown")
		}
	default:
		tr = p.gate.Evaluate(result.Signal, env, now)
		if p.metrics != nil {
			p.metrics.SignalConfidence.Observe(result.Signal.Confidence)
		}
	}

	switch result.Signal.State {
	case signal.StateReject:
		report.reject(result.Signal.StateReason)
		if p.metrics != nil {
			p.metrics.GateRejections.WithLabelValues(result.Signal.StateReason).Inc()
		}
	case signal.StateS2Execute:
		report.Accepted++
	}

	if err := p.store.UpsertSignal(result.Signal); err != nil {
		return err
	}
	if tr != nil {
		if p.metrics != nil {
			p.metrics.RecordTransition(string(tr.From), string(tr.To))
		}
		if err := p.store.InsertTransition(*tr); err != nil {
			return err
		}
	}
	return nil
}

// environment derives the gate inputs for one market.
func (p *Pipeline) environment(ref odds.MarketRef, quotes []odds.Quote, health ProviderHealth, now time.Time) signal.Environment {
	env := signal.Environment{
		ProvidersConfigured:    health.Configured,
		ProvidersReachable:     health.Reachable,
		ProvidersDisagree:      health.Disagree,
		HomeRaw:                ref.HomeTeam,
		AwayRaw:                ref.AwayTeam,
		StaleOrDuplicateQuotes: hasDuplicateTimestamps(quotes),
		Category:               ref.League,
	}
	if p.teams != nil {
		env.LeagueResolved = p.teams.KnownLeague(ref.League)
		_, env.HomeResolved = p.teams.Resolve(ref.League, ref.HomeTeam)
		_, env.AwayResolved = p.teams.Resolve(ref.League, ref.AwayTeam)
	} else {
		env.LeagueResolved = true
		env.HomeResolved = true
		env.AwayResolved = true
	}
	return env
}

// hasDuplicateTimestamps reports repeated (source, outcome, timestamp)
// observations, the marker for a misbehaving ingestion job.
func hasDuplicateTimestamps(quotes []odds.Quote) bool {
	seen := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		k := fmt.Sprintf("%s|%s|%d", q.SourceID, q.Outcome, q.ObservedAt.UnixNano())
		if seen[k] {
			return true
		}
		seen[k] = true
	}
	return false
}

// RefreshCycle expires started or collapsed signals, resolves instruments
// for execution-eligible ones concurrently, grades their net edge against
// live venue prices, sizes stakes, and writes the selected recommendations.
func (p *Pipeline) RefreshCycle(ctx context.Context, health ProviderHealth, now time.Time) (*CycleReport, error) {
	report := &CycleReport{
		Cycle:       "refresh",
		CoreVersion: p.version.Name,
		StartedAt:   now,
		Rejections:  make(map[string]int),
	}

	live, err := p.store.SignalsInState(signal.StateWatch, signal.StateS1Promote, signal.StateS2Execute)
	if err != nil {
		return nil, fmt.Errorf("list live signals: %w", err)
	}

	var eligible []*signal.Signal
	for _, sig := range live {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !sig.Ref.StartTime.After(now) {
			p.terminate(sig, signal.StateExpired, "event_started", now)
			report.reject("event_started")
			continue
		}
		if sig.State != signal.StateS2Execute {
			continue
		}
		eligible = append(eligible, sig)
	}

	resolutions := make([]*resolver.Resolution, len(eligible))
	if p.resolver != nil && len(eligible) > 0 {
		queries := make([]resolver.Query, len(eligible))
		for i, sig := range eligible {
			queries[i] = resolver.Query{
				HomeTeam: sig.Ref.HomeTeam,
				AwayTeam: sig.Ref.AwayTeam,
				Sport:    sig.Ref.League,
			}
		}
		resolutions = p.resolver.ResolveBatch(ctx, queries, p.workers)
	}

	var candidates []portfolio.Candidate
	for i, sig := range eligible {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		cand, reason := p.refreshOne(ctx, sig, resolutions[i], now)
		if cand == nil {
			report.reject(reason)
			continue
		}
		candidates = append(candidates, *cand)
	}

	accepted, rejected := p.selector.Select(candidates, now)
	for _, r := range rejected {
		report.reject(r.Reason)
		if p.metrics != nil {
			p.metrics.SelectionRejections.WithLabelValues(capClass(r.Reason)).Inc()
		}
	}
	if len(accepted) > 0 {
		if err := p.store.InsertRecommendedBets(accepted); err != nil {
			return nil, fmt.Errorf("write recommended bets: %w", err)
		}
		if p.metrics != nil {
			p.metrics.BetsRecommended.Add(float64(len(accepted)))
		}
	}
	report.Accepted = len(accepted)

	report.Duration = time.Since(now)
	if p.metrics != nil {
		p.metrics.RecordCycle("refresh", "ok", report.Duration.Seconds())
	}
	p.logReport(report)
	return report, nil
}

// refreshOne converts one execution-eligible signal into a selection
// candidate, or returns the reason it produced none. Edge is graded against
// the venue's live quoted price when one is available; the signal's stored
// book probability is the fallback.
func (p *Pipeline) refreshOne(ctx context.Context, sig *signal.Signal, res *resolver.Resolution, now time.Time) (*portfolio.Candidate, string) {
	instrumentRef := sig.DedupeKey
	quoted := sig.BookImpliedProb
	if res != nil {
		if p.metrics != nil {
			p.metrics.RecordResolution(res.Source, res.Tradeable, res.Confidence)
		}
		if !res.Tradeable {
			return nil, "instrument_untradeable"
		}
		instrumentRef = res.ConditionID
		if p.price != nil && res.TokenA != "" {
			price, err := p.price(ctx, res.TokenA)
			if err != nil {
				p.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("live price lookup failed")
			} else if price > 0 && price < 1 {
				quoted = price
			}
		}
	}

	liquidity := sig.LiquidityEstimate
	if p.liquidity != nil {
		if liq, err := p.liquidity(ctx, sig.DedupeKey); err == nil {
			liquidity = liq
		}
	}

	rawEdge := sig.FairProb - quoted
	stake := p.sizer.Stake(quoted, rawEdge, sig.Confidence, p.bankroll)
	analysis := p.engine.Analyze(rawEdge, liquidity, stake)
	if p.metrics != nil {
		p.metrics.RecordDecision(string(analysis.Decision), string(analysis.LiquidityTier), analysis.NetEdge)
	}

	if analysis.NetEdge < 0 {
		p.terminate(sig, signal.StateExpired, "net_edge_collapsed", now)
		return nil, "net_edge_collapsed"
	}
	if analysis.Decision == execution.NoBet {
		return nil, "decision_no_bet"
	}
	if stake.IsZero() {
		return nil, "stake_below_minimum"
	}

	return &portfolio.Candidate{
		SignalID:      sig.ID,
		EventKey:      sig.DedupeKey,
		League:        sig.Ref.League,
		StartTime:     sig.Ref.StartTime,
		InstrumentRef: instrumentRef,
		Odds:          quoted,
		FairProb:      sig.FairProb,
		Edge:          analysis.NetEdge,
		Score:         p.score.BetScore(sig.Confidence, analysis.NetEdge),
		Stake:         stake,
	}, ""
}

func (p *Pipeline) terminate(sig *signal.Signal, to signal.State, reason string, now time.Time) {
	tr := p.gate.Terminate(sig, to, reason, now)
	if err := p.store.UpsertSignal(sig); err != nil {
		p.log.Error().Err(err).Str("signal_id", sig.ID).Msg("terminate upsert failed")
		return
	}
	if tr != nil {
		if p.metrics != nil {
			p.metrics.RecordTransition(string(tr.From), string(tr.To))
		}
		if err := p.store.InsertTransition(*tr); err != nil {
			p.log.Error().Err(err).Str("signal_id", sig.ID).Msg("transition insert failed")
		}
	}
}

// capClass collapses a selection rejection reason to a bounded label value.
func capClass(reason string) string {
	switch {
	case strings.Contains(reason, "league"):
		return "league"
	case strings.Contains(reason, "time-cluster"):
		return "time_cluster"
	case strings.Contains(reason, "exposure"):
		return "exposure"
	case strings.Contains(reason, "per-event"):
		return "per_event"
	case strings.Contains(reason, "max"):
		return "max_count"
	default:
		return "other"
	}
}

func (p *Pipeline) logReport(report *CycleReport) {
	ev := p.log.Info().
		Str("cycle", report.Cycle).
		Str("core_version", report.CoreVersion).
		Int("processed", report.Processed).
		Int("accepted", report.Accepted).
		Int("errors", report.Errors).
		Dur("duration", report.Duration)
	for reason, n := range report.Rejections {
		ev = ev.Int("rejected_"+reason, n)
	}
	ev.Msg("cycle complete")
}
