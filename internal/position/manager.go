// Package position runs the exit state machine over every open position. The
// exit conditions are evaluated in a fixed priority order on each tick:
// capital-protection conditions (time, stops) always outrank profit-taking.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

// PriceSource supplies the live price for a symbol; satisfied by the ticker
// cache.
type PriceSource interface {
	Get(exchange, symbol string) (domain.TickerSnapshot, bool)
}

// MomentumSource supplies the short-window momentum for a symbol; satisfied
// by the ticker cache.
type MomentumSource interface {
	Momentum(exchange, symbol string) (float64, bool)
}

// CoherenceSource supplies the aggregate market-coherence scalar. The default
// source pins it to 1.0, which never triggers decay exits.
type CoherenceSource func() float64

// Config holds the exit thresholds. Percentages are of entry price.
type Config struct {
	MaxHold            time.Duration
	TargetProfitPct    float64
	StopLossPct        float64
	TrailingStopPct    float64
	ProfitLockPct      float64 // unrealized profit that arms the trailing stop
	PartialProfitPct   float64 // first partial-profit trigger
	PartialExitPct     float64 // fraction exited at the partial trigger
	ReversalPct        float64 // opposing momentum that forces an exit
	CoherenceThreshold float64 // coherence below this forces an exit
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MaxHold:            4 * time.Hour,
		TargetProfitPct:    3.0,
		StopLossPct:        0.5,
		TrailingStopPct:    0.2,
		ProfitLockPct:      1.0,
		PartialProfitPct:   1.5,
		PartialExitPct:     0.5,
		ReversalPct:        1.0,
		CoherenceThreshold: 0.3,
	}
}

// ClosedPosition reports one full exit from a check cycle.
type ClosedPosition struct {
	Position domain.Position
	Reason   domain.ExitReason
	Price    float64
	PnLPct   float64
}

// Manager owns the active position set.
type Manager struct {
	cfg       Config
	prices    PriceSource
	momentum  MomentumSource
	coherence CoherenceSource
	store     domain.PositionStore // nil disables journaling
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position // keyed by ID
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCoherenceSource plugs in an external market-coherence feed.
func WithCoherenceSource(src CoherenceSource) Option {
	return func(m *Manager) { m.coherence = src }
}

// New constructs a Manager, filling zero config fields from the defaults.
// The store may be nil; journaling failures are logged, never fatal.
func New(cfg Config, prices PriceSource, momentum MomentumSource, store domain.PositionStore, logger *slog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = def.MaxHold
	}
	if cfg.TargetProfitPct <= 0 {
		cfg.TargetProfitPct = def.TargetProfitPct
	}
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = def.StopLossPct
	}
	if cfg.TrailingStopPct <= 0 {
		cfg.TrailingStopPct = def.TrailingStopPct
	}
	if cfg.ProfitLockPct <= 0 {
		cfg.ProfitLockPct = def.ProfitLockPct
	}
	if cfg.PartialProfitPct <= 0 {
		cfg.PartialProfitPct = def.PartialProfitPct
	}
	if cfg.PartialExitPct <= 0 {
		cfg.PartialExitPct = def.PartialExitPct
	}
	if cfg.ReversalPct <= 0 {
		cfg.ReversalPct = def.ReversalPct
	}
	if cfg.CoherenceThreshold <= 0 {
		cfg.CoherenceThreshold = def.CoherenceThreshold
	}
	m := &Manager{
		cfg:       cfg,
		prices:    prices,
		momentum:  momentum,
		coherence: func() float64 { return 1.0 },
		store:     store,
		logger:    logger.With(slog.String("component", "position_manager")),
		now:       time.Now,
		positions: make(map[string]*domain.Position),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open admits a new position, filling defaults for unset thresholds.
func (m *Manager) Open(p domain.Position) domain.Position {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.TargetProfitPct <= 0 {
		p.TargetProfitPct = m.cfg.TargetProfitPct
	}
	if p.StopLossPct <= 0 {
		p.StopLossPct = m.cfg.StopLossPct
	}
	if p.TrailingStopPct <= 0 {
		p.TrailingStopPct = m.cfg.TrailingStopPct
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now().UTC()
	}
	p.Status = domain.PositionOpen
	p.HighestPrice = p.EntryPrice
	p.LowestPrice = p.EntryPrice

	m.mu.Lock()
	m.positions[p.ID] = &p
	m.mu.Unlock()

	metrics.OpenPositions.Inc()
	m.logger.Info("position opened",
		slog.String("position_id", p.ID),
		slog.String("asset", p.Asset),
		slog.String("direction", string(p.Direction)),
		slog.Float64("entry", p.EntryPrice),
	)
	return p
}

// Active returns copies of the open positions.
func (m *Manager) Active() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// ShouldExit updates the position's tracking fields for the tick, then walks
// the exit conditions in priority order and returns the first match. The
// order is load-bearing: time and stops protect capital and must fire before
// any profit-taking rule gets a look.
func (m *Manager) ShouldExit(p *domain.Position, currentPrice, momentum, coherence float64) domain.ExitDecision {
	m.updateTracking(p, currentPrice)
	unrealized := p.UnrealizedPct(currentPrice)

	if m.now().Sub(p.OpenedAt) > m.cfg.MaxHold {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitTime, Fraction: 1}
	}
	if unrealized <= -p.StopLossPct {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitStopLoss, Fraction: 1}
	}
	if p.TrailingStopPrice > 0 && m.trailingBreached(p, currentPrice) {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitTrailingStop, Fraction: 1}
	}
	if !p.PartialExitDone && unrealized >= m.cfg.PartialProfitPct {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitPartialProfit, Fraction: m.cfg.PartialExitPct}
	}
	if m.momentumOpposes(p, momentum) {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitMomentumReversal, Fraction: 1}
	}
	if coherence < m.cfg.CoherenceThreshold {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitCoherenceDecay, Fraction: 1}
	}
	if unrealized >= p.TargetProfitPct {
		return domain.ExitDecision{Exit: true, Reason: domain.ExitTarget, Fraction: 1}
	}
	return domain.ExitDecision{}
}

// updateTracking refreshes the extremes and ratchets the trailing stop once
// the profit lock is reached.
func (m *Manager) updateTracking(p *domain.Position, currentPrice float64) {
	if currentPrice > p.HighestPrice {
		p.HighestPrice = currentPrice
	}
	if currentPrice < p.LowestPrice || p.LowestPrice == 0 {
		p.LowestPrice = currentPrice
	}
	if p.UnrealizedPct(currentPrice) < m.cfg.ProfitLockPct && p.TrailingStopPrice == 0 {
		return
	}
	switch p.Direction {
	case domain.PositionShort:
		stop := p.LowestPrice * (1 + p.TrailingStopPct/100)
		if p.TrailingStopPrice == 0 || stop < p.TrailingStopPrice {
			p.TrailingStopPrice = stop
		}
	default:
		stop := p.HighestPrice * (1 - p.TrailingStopPct/100)
		if stop > p.TrailingStopPrice {
			p.TrailingStopPrice = stop
		}
	}
}

func (m *Manager) trailingBreached(p *domain.Position, currentPrice float64) bool {
	if p.Direction == domain.PositionShort {
		return currentPrice >= p.TrailingStopPrice
	}
	return currentPrice <= p.TrailingStopPrice
}

func (m *Manager) momentumOpposes(p *domain.Position, momentum float64) bool {
	if p.Direction == domain.PositionShort {
		return momentum >= m.cfg.ReversalPct
	}
	return momentum <= -m.cfg.ReversalPct
}

// CheckAll runs one tick over every open position using live prices, applies
// the resulting exits, and returns the positions fully closed this cycle.
// Positions without a fresh price are left alone until the feed recovers.
func (m *Manager) CheckAll(ctx context.Context) []ClosedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []ClosedPosition
	for id, p := range m.positions {
		snap, ok := m.prices.Get(p.Exchange, p.Asset)
		if !ok {
			continue
		}
		mom, _ := m.momentum.Momentum(p.Exchange, p.Asset)
		decision := m.ShouldExit(p, snap.Price, mom, m.coherence())
		if !decision.Exit {
			continue
		}

		if decision.Fraction < 1 {
			p.Quantity *= 1 - decision.Fraction
			p.PartialExitDone = true
			p.Status = domain.PositionPartiallyExited
			metrics.PositionExits.WithLabelValues(string(decision.Reason)).Inc()
			m.logger.InfoContext(ctx, "partial exit",
				slog.String("position_id", p.ID),
				slog.String("asset", p.Asset),
				slog.Float64("fraction", decision.Fraction),
				slog.Float64("price", snap.Price),
			)
			continue
		}

		now := m.now().UTC()
		p.Status = domain.PositionClosed
		p.ClosedAt = &now
		p.ExitPrice = snap.Price
		p.ExitReason = decision.Reason
		delete(m.positions, id)

		metrics.PositionExits.WithLabelValues(string(decision.Reason)).Inc()
		metrics.OpenPositions.Dec()
		m.logger.InfoContext(ctx, "position closed",
			slog.String("position_id", p.ID),
			slog.String("asset", p.Asset),
			slog.String("reason", string(decision.Reason)),
			slog.Float64("price", snap.Price),
			slog.Float64("pnl_pct", p.UnrealizedPct(snap.Price)),
		)

		closed = append(closed, ClosedPosition{
			Position: *p,
			Reason:   decision.Reason,
			Price:    snap.Price,
			PnLPct:   p.UnrealizedPct(snap.Price),
		})
		m.journal(ctx, *p)
	}
	return closed
}

func (m *Manager) journal(ctx context.Context, p domain.Position) {
	if m.store == nil {
		return
	}
	if err := m.store.Insert(ctx, p); err != nil {
		m.logger.WarnContext(ctx, "position journal failed",
			slog.String("position_id", p.ID),
			slog.String("error", fmt.Sprintf("%v", err)),
		)
	}
}
