package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebhsu/signalmesh/internal/config"
	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/evaluator"
)

// RunMode starts the full engine: feed ingestors, the dispatch loop, the
// position lifecycle loop, and the optional archiver and ops server. It blocks
// until the context is cancelled or a component fails.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	eng := newEngine(a.cfg, deps, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	for _, ing := range deps.Ingestors {
		ing := ing
		g.Go(func() error { return ing.Run(ctx) })
	}
	g.Go(func() error { return eng.dispatchLoop(ctx) })
	g.Go(func() error { return eng.positionLoop(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error {
			retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, retention)
		})
	}
	if a.cfg.Server.Enabled {
		g.Go(func() error { return a.serveOps(ctx, deps) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ScanMode runs ingestors and the scanner without dispatching missions. The
// ops server stays up so operators can inspect the scored universe.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ing := range deps.Ingestors {
		ing := ing
		g.Go(func() error { return ing.Run(ctx) })
	}
	g.Go(func() error { return a.scanLoop(ctx, deps) })
	if a.cfg.Server.Enabled {
		g.Go(func() error { return a.serveOps(ctx, deps) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) scanLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Scanner.Interval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tickers := deps.Cache.SnapshotAll()
			if len(tickers) == 0 {
				continue
			}
			targets := deps.Scanner.Scan(tickers)
			a.logger.InfoContext(ctx, "scan cycle",
				slog.Int("tickers", len(tickers)),
				slog.Int("scored", len(targets)),
			)
		}
	}
}

// missionRef identifies the active-mission key a position settles when it
// closes.
type missionRef struct {
	exchange  string
	fromAsset string
}

// engine owns the dispatch decision cycle: scan the universe, rotate into
// trend leaders, review holdings against the dual-path evaluator, and probe
// the exhaustive sweep. Positions opened by missions are linked back so a
// close settles the mission PnL into the learning loops.
type engine struct {
	cfg    *config.Config
	deps   *Dependencies
	logger *slog.Logger

	mu          sync.Mutex
	links       map[string]missionRef // position ID -> mission key
	sweepCursor int
}

func newEngine(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *engine {
	return &engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
		links:  make(map[string]missionRef),
	}
}

func (e *engine) dispatchLoop(ctx context.Context) error {
	interval := e.cfg.Dispatch.Interval.Duration
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *engine) tick(ctx context.Context) {
	tickers := e.deps.Cache.SnapshotAll()
	if len(tickers) == 0 {
		return
	}
	e.deps.Scanner.Scan(tickers)

	e.rotateTrend(ctx)
	e.reviewHoldings(ctx)
	e.probeSweep(ctx)
}

// rotateTrend converts the weakest ranked trend symbol into the strongest
// when the unified signal recommends buying the pair.
func (e *engine) rotateTrend(ctx context.Context) {
	trend, err := e.deps.Scanner.Targets(domain.DirectionTrend)
	if err != nil || len(trend) < 2 {
		return
	}
	to := trend[0]
	from := trend[len(trend)-1]
	if from.Symbol == to.Symbol || from.Exchange != to.Exchange {
		return
	}

	sig, err := e.deps.Aggregator.Aggregate(ctx, to.Exchange, from.Symbol, to.Symbol)
	if err != nil {
		e.logger.DebugContext(ctx, "trend aggregation skipped", slog.String("error", err.Error()))
		return
	}
	if err := e.deps.Publisher.PublishSignal(ctx, sig); err != nil {
		e.logger.WarnContext(ctx, "publish signal failed", slog.String("error", err.Error()))
	}
	if sig.Recommendation != domain.SignalBuy && sig.Recommendation != domain.SignalStrongBuy {
		return
	}

	m := e.submit(ctx, domain.MissionProposal{
		Direction: domain.DirectionTrend,
		Exchange:  to.Exchange,
		FromAsset: from.Symbol,
		ToAsset:   to.Symbol,
		Amount:    e.cfg.Dispatch.AmountPerMission,
		Score:     sig.Score,
	})
	if m != nil {
		e.openLinkedPosition(ctx, m)
	}
}

// reviewHoldings runs the dual-path evaluator over every open position and
// dispatches peer-rotation or capital-preservation missions accordingly.
func (e *engine) reviewHoldings(ctx context.Context) {
	trend, err := e.deps.Scanner.Targets(domain.DirectionTrend)
	if err != nil {
		return
	}
	top := trend
	if len(top) > 5 {
		top = top[:5]
	}

	for _, pos := range e.deps.Positions.Active() {
		snap, ok := e.deps.Cache.Get(pos.Exchange, pos.Asset)
		if !ok {
			continue
		}

		d := e.deps.Evaluator.Evaluate(pos.Asset, pos.Exchange, pos.Quantity, pos.EntryPrice, snap.Price, top)
		switch d.Action {
		case evaluator.ActionRotate:
			score := 0.5
			if sig, err := e.deps.Aggregator.Aggregate(ctx, pos.Exchange, pos.Asset, d.RotateTarget); err == nil {
				score = sig.Score
			}
			m := e.submit(ctx, domain.MissionProposal{
				Direction: domain.DirectionPeerRotation,
				Exchange:  pos.Exchange,
				FromAsset: pos.Asset,
				ToAsset:   d.RotateTarget,
				Amount:    pos.Quantity * snap.Price,
				Score:     score,
			})
			if m != nil {
				e.link(pos.ID, missionRef{m.Exchange, m.FromAsset})
				e.openLinkedPosition(ctx, m)
			}
		case evaluator.ActionLiquidate:
			target, ok := e.deriskTarget(pos.Exchange)
			if !ok {
				continue
			}
			m := e.submit(ctx, domain.MissionProposal{
				Direction: domain.DirectionDeRisk,
				Exchange:  pos.Exchange,
				FromAsset: pos.Asset,
				ToAsset:   target,
				Amount:    pos.Quantity * snap.Price,
				Score:     0,
			})
			if m != nil {
				e.link(pos.ID, missionRef{m.Exchange, m.FromAsset})
			}
		}
	}
}

// deriskTarget picks the strongest capital-preservation symbol on the
// exchange, falling back to the first stable-quote listing.
func (e *engine) deriskTarget(exchange string) (string, bool) {
	derisk, err := e.deps.Scanner.Targets(domain.DirectionDeRisk)
	if err != nil {
		return "", false
	}
	for _, t := range derisk {
		if t.Exchange == exchange {
			return t.Symbol, true
		}
	}
	return "", false
}

// probeSweep walks the alphabetical universe one symbol per cycle, trying a
// rotation into the trend leader. The single sweep slot keeps this to one
// in-flight probe.
func (e *engine) probeSweep(ctx context.Context) {
	sweep, err := e.deps.Scanner.Targets(domain.DirectionSweep)
	if err != nil || len(sweep) == 0 {
		return
	}
	trend, err := e.deps.Scanner.Targets(domain.DirectionTrend)
	if err != nil || len(trend) == 0 {
		return
	}

	e.mu.Lock()
	from := sweep[e.sweepCursor%len(sweep)]
	e.sweepCursor++
	e.mu.Unlock()

	to := trend[0]
	if from.Symbol == to.Symbol || from.Exchange != to.Exchange {
		return
	}

	sig, err := e.deps.Aggregator.Aggregate(ctx, to.Exchange, from.Symbol, to.Symbol)
	if err != nil || sig.Recommendation != domain.SignalStrongBuy {
		return
	}
	m := e.submit(ctx, domain.MissionProposal{
		Direction: domain.DirectionSweep,
		Exchange:  to.Exchange,
		FromAsset: from.Symbol,
		ToAsset:   to.Symbol,
		Amount:    e.cfg.Dispatch.AmountPerMission,
		Score:     sig.Score,
	})
	if m != nil {
		e.openLinkedPosition(ctx, m)
	}
}

// submit runs a proposal through the dispatcher. Per-cycle rejections
// (capacity, duplicates, vetoes) are expected traffic and only logged; a veto
// additionally alerts operators.
func (e *engine) submit(ctx context.Context, p domain.MissionProposal) *domain.Mission {
	m, err := e.deps.Dispatcher.Dispatch(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAtCapacity), errors.Is(err, domain.ErrDuplicateMission):
			e.logger.DebugContext(ctx, "mission skipped",
				slog.String("direction", string(p.Direction)),
				slog.String("from", p.FromAsset),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, domain.ErrRiskGateVetoed):
			e.deps.Notifier.MissionVetoed(ctx, p.Exchange, p.FromAsset, err.Error())
		default:
			e.logger.WarnContext(ctx, "dispatch failed",
				slog.String("direction", string(p.Direction)),
				slog.String("from", p.FromAsset),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	if err := e.deps.Publisher.PublishMissionDispatched(ctx, *m); err != nil {
		e.logger.WarnContext(ctx, "publish mission failed", slog.String("error", err.Error()))
	}
	e.deps.Notifier.MissionDispatched(ctx, *m)
	return m
}

// openLinkedPosition opens a long position in the mission's target and links
// it so the eventual exit settles the mission.
func (e *engine) openLinkedPosition(ctx context.Context, m *domain.Mission) {
	snap, ok := e.deps.Cache.Get(m.Exchange, m.ToAsset)
	if !ok || snap.Price <= 0 {
		e.logger.WarnContext(ctx, "no fresh price for mission target, position not opened",
			slog.String("mission_id", m.ID),
			slog.String("symbol", m.ToAsset),
		)
		return
	}

	pos := e.deps.Positions.Open(domain.Position{
		Asset:      m.ToAsset,
		Exchange:   m.Exchange,
		Quantity:   m.FilledAmount / snap.Price,
		EntryPrice: snap.Price,
		Direction:  domain.PositionLong,
	})
	e.link(pos.ID, missionRef{m.Exchange, m.FromAsset})
}

func (e *engine) link(positionID string, ref missionRef) {
	e.mu.Lock()
	e.links[positionID] = ref
	e.mu.Unlock()
}

func (e *engine) unlink(positionID string) (missionRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, ok := e.links[positionID]
	if ok {
		delete(e.links, positionID)
	}
	return ref, ok
}

// positionLoop checks exit conditions on every open position and settles the
// linked mission when a position fully closes.
func (e *engine) positionLoop(ctx context.Context) error {
	interval := e.cfg.Position.CheckInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, cp := range e.deps.Positions.CheckAll(ctx) {
				e.settle(ctx, cp.Position, cp.PnLPct)
			}
		}
	}
}

// settle handles one exit result. Partial exits only reduce the position;
// the mission settles on the full close.
func (e *engine) settle(ctx context.Context, pos domain.Position, pnlPct float64) {
	if pos.Status != domain.PositionClosed {
		return
	}

	if err := e.deps.Publisher.PublishExit(ctx, pos); err != nil {
		e.logger.WarnContext(ctx, "publish exit failed", slog.String("error", err.Error()))
	}
	e.deps.Notifier.PositionClosed(ctx, pos, pnlPct)

	ref, ok := e.unlink(pos.ID)
	if !ok {
		return
	}
	m, err := e.deps.Dispatcher.CompleteMission(ctx, ref.exchange, ref.fromAsset, pnlPct/100)
	if err != nil {
		e.logger.DebugContext(ctx, "mission already settled",
			slog.String("key", ref.exchange+"/"+ref.fromAsset),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.deps.Publisher.PublishMissionCompleted(ctx, *m); err != nil {
		e.logger.WarnContext(ctx, "publish completion failed", slog.String("error", err.Error()))
	}
	e.deps.Notifier.MissionCompleted(ctx, *m)
}
