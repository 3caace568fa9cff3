// Package dispatch turns scan directions into missions: it maps a direction
// onto an execution doctrine, enforces per-doctrine concurrency slots, asks
// the risk gate for approval, and hands approved missions to the execution
// backend. Completed missions feed their pnl back into the learned weights.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/execution"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

// OutcomeSink receives realized pair outcomes; satisfied by the signal
// aggregator.
type OutcomeSink interface {
	RecordOutcome(fromAsset, toAsset string, profit float64)
}

// ResultSink receives realized per-asset outcomes; satisfied by the scanner.
type ResultSink interface {
	RecordResult(baseAsset string, profit float64)
}

const defaultHistoryLimit = 500

// Config holds the dispatcher tunables.
type Config struct {
	// Slots caps concurrently active missions per doctrine.
	Slots map[domain.Doctrine]int
	// GatePolicy decides fail-open vs fail-closed when the gate is down.
	GatePolicy GatePolicy
	// HistoryLimit bounds the in-memory completed-mission ring.
	HistoryLimit int
}

// DefaultConfig returns the tuned defaults. Capital preservation gets the
// most slots: de-risking should never queue behind opportunistic rotation.
func DefaultConfig() Config {
	return Config{
		Slots: map[domain.Doctrine]int{
			domain.DoctrineTrendFollowing:      3,
			domain.DoctrineCapitalPreservation: 5,
			domain.DoctrinePeerRotation:        2,
			domain.DoctrineExhaustiveSweep:     1,
		},
		GatePolicy:   GateFailOpen,
		HistoryLimit: defaultHistoryLimit,
	}
}

// Dispatcher owns the active-mission set. All mutation happens under its
// mutex; the gate and backend calls run outside it.
type Dispatcher struct {
	cfg      Config
	gate     RiskGate
	backend  execution.Backend
	outcomes OutcomeSink
	results  ResultSink
	store    domain.MissionStore // nil disables persistence
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	active  map[string]*domain.Mission // keyed by Mission.Key()
	history []domain.Mission
}

// New constructs a Dispatcher. The store may be nil; persistence failures are
// logged and never block dispatch.
func New(cfg Config, gate RiskGate, backend execution.Backend, outcomes OutcomeSink, results ResultSink, store domain.MissionStore, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if len(cfg.Slots) == 0 {
		cfg.Slots = def.Slots
	}
	if cfg.GatePolicy == "" {
		cfg.GatePolicy = def.GatePolicy
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return &Dispatcher{
		cfg:      cfg,
		gate:     gate,
		backend:  backend,
		outcomes: outcomes,
		results:  results,
		store:    store,
		logger:   logger.With(slog.String("component", "strategy_dispatcher")),
		now:      time.Now,
		active:   make(map[string]*domain.Mission),
	}
}

// doctrineFor maps a scan direction onto its execution doctrine.
func doctrineFor(d domain.Direction) (domain.Doctrine, error) {
	switch d {
	case domain.DirectionTrend:
		return domain.DoctrineTrendFollowing, nil
	case domain.DirectionDeRisk:
		return domain.DoctrineCapitalPreservation, nil
	case domain.DirectionPeerRotation:
		return domain.DoctrinePeerRotation, nil
	case domain.DirectionSweep:
		return domain.DoctrineExhaustiveSweep, nil
	default:
		return "", fmt.Errorf("dispatch: %q: %w", d, domain.ErrUnknownDirection)
	}
}

// Dispatch runs the full admission pipeline for a proposal: doctrine mapping,
// slot check, risk gate, duplicate-key check, then execution. The returned
// errors ErrAtCapacity, ErrRiskGateVetoed and ErrDuplicateMission are all
// per-cycle conditions the caller simply retries or skips.
func (d *Dispatcher) Dispatch(ctx context.Context, p domain.MissionProposal) (*domain.Mission, error) {
	doctrine, err := doctrineFor(p.Direction)
	if err != nil {
		return nil, err
	}
	p.Doctrine = doctrine
	key := p.Exchange + "/" + p.FromAsset

	// Cheap local checks first so a full doctrine or duplicate key never
	// costs a gate round-trip.
	if err := d.admit(doctrine, key); err != nil {
		return nil, err
	}

	verdict, err := d.assess(ctx, p)
	if err != nil {
		return nil, err
	}

	mission := &domain.Mission{
		ID:        uuid.NewString(),
		Doctrine:  doctrine,
		Direction: p.Direction,
		Exchange:  p.Exchange,
		FromAsset: p.FromAsset,
		ToAsset:   p.ToAsset,
		Amount:    p.Amount,
		Verdict:   verdict,
		Status:    domain.MissionActive,
		EntryAt:   d.now().UTC(),
	}
	mission.Rationale = append(mission.Rationale,
		fmt.Sprintf("direction %s -> doctrine %s", p.Direction, doctrine),
		fmt.Sprintf("gate: %s", verdict.Reason),
	)
	if verdict.DefaultAllowed {
		mission.Rationale = append(mission.Rationale, "gate unreachable, fail-open default applied")
	}

	// The gate call ran unlocked; the slot or the key may have been taken
	// meanwhile, so admission is re-checked at insert.
	d.mu.Lock()
	if err := d.admitLocked(doctrine, key); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.active[key] = mission
	d.mu.Unlock()

	fill, err := d.backend.PlaceConversion(ctx, p)
	if err != nil {
		d.mu.Lock()
		delete(d.active, key)
		d.mu.Unlock()
		return nil, fmt.Errorf("dispatch: place conversion: %w", err)
	}

	d.mu.Lock()
	mission.FilledAmount = fill.Amount
	mission.Rationale = append(mission.Rationale,
		fmt.Sprintf("filled %.8f at %.8f via %s", fill.Amount, fill.Price, d.backend.Name()))
	snapshot := *mission
	d.mu.Unlock()

	metrics.MissionsDispatched.WithLabelValues(string(doctrine)).Inc()
	metrics.ActiveMissions.WithLabelValues(string(doctrine)).Inc()
	d.logger.InfoContext(ctx, "mission dispatched",
		slog.String("mission_id", snapshot.ID),
		slog.String("doctrine", string(doctrine)),
		slog.String("from", p.FromAsset),
		slog.String("to", p.ToAsset),
		slog.Float64("amount", fill.Amount),
		slog.Bool("gate_defaulted", verdict.DefaultAllowed),
	)

	d.persistCreate(ctx, snapshot)
	return &snapshot, nil
}

// admit checks slot capacity and key uniqueness under the lock.
func (d *Dispatcher) admit(doctrine domain.Doctrine, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.admitLocked(doctrine, key)
}

func (d *Dispatcher) admitLocked(doctrine domain.Doctrine, key string) error {
	if _, exists := d.active[key]; exists {
		metrics.MissionsRejected.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("dispatch: %s: %w", key, domain.ErrDuplicateMission)
	}
	limit := d.cfg.Slots[doctrine]
	count := 0
	for _, m := range d.active {
		if m.Doctrine == doctrine {
			count++
		}
	}
	if count >= limit {
		metrics.MissionsRejected.WithLabelValues("capacity").Inc()
		return fmt.Errorf("dispatch: doctrine %s (%d/%d): %w", doctrine, count, limit, domain.ErrAtCapacity)
	}
	return nil
}

// assess consults the gate, applying the configured policy when it is
// unreachable.
func (d *Dispatcher) assess(ctx context.Context, p domain.MissionProposal) (domain.GateVerdict, error) {
	verdict, err := d.gate.Assess(ctx, p)
	if err != nil {
		if d.cfg.GatePolicy == GateFailClosed {
			metrics.MissionsRejected.WithLabelValues("veto").Inc()
			return domain.GateVerdict{}, fmt.Errorf("dispatch: gate unreachable under fail-closed: %w", domain.ErrRiskGateVetoed)
		}
		d.logger.WarnContext(ctx, "risk gate unreachable, defaulting to allow",
			slog.String("from", p.FromAsset),
			slog.String("error", err.Error()),
		)
		return domain.GateVerdict{
			Allowed:        true,
			Reason:         "gate unreachable: " + err.Error(),
			DefaultAllowed: true,
			DecidedAt:      d.now().UTC(),
		}, nil
	}
	if !verdict.Allowed {
		metrics.MissionsRejected.WithLabelValues("veto").Inc()
		d.logger.InfoContext(ctx, "mission vetoed",
			slog.String("from", p.FromAsset),
			slog.String("to", p.ToAsset),
			slog.String("reason", verdict.Reason),
		)
		return domain.GateVerdict{}, fmt.Errorf("dispatch: %s: %w", verdict.Reason, domain.ErrRiskGateVetoed)
	}
	return verdict, nil
}

// CompleteMission retires the active mission for (exchange, fromAsset),
// records the realized pnl, and feeds the outcome back into both learned
// weight stores.
func (d *Dispatcher) CompleteMission(ctx context.Context, exchange, fromAsset string, pnl float64) (*domain.Mission, error) {
	key := exchange + "/" + fromAsset

	d.mu.Lock()
	mission, ok := d.active[key]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("dispatch: complete %s: %w", key, domain.ErrNotFound)
	}
	delete(d.active, key)

	completedAt := d.now().UTC()
	mission.Status = domain.MissionCompleted
	mission.PnL = pnl
	mission.CompletedAt = &completedAt

	d.history = append(d.history, *mission)
	if len(d.history) > d.cfg.HistoryLimit {
		d.history = d.history[len(d.history)-d.cfg.HistoryLimit:]
	}
	snapshot := *mission
	d.mu.Unlock()

	metrics.ActiveMissions.WithLabelValues(string(snapshot.Doctrine)).Dec()
	d.logger.InfoContext(ctx, "mission completed",
		slog.String("mission_id", snapshot.ID),
		slog.String("doctrine", string(snapshot.Doctrine)),
		slog.Float64("pnl", pnl),
	)

	if d.outcomes != nil {
		d.outcomes.RecordOutcome(snapshot.FromAsset, snapshot.ToAsset, pnl)
	}
	if d.results != nil {
		d.results.RecordResult(snapshot.FromAsset, pnl)
	}
	d.persistComplete(ctx, snapshot)
	return &snapshot, nil
}

// Active returns copies of the in-flight missions.
func (d *Dispatcher) Active() []domain.Mission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Mission, 0, len(d.active))
	for _, m := range d.active {
		out = append(out, *m)
	}
	return out
}

// History returns up to limit most recent completed missions, newest last.
func (d *Dispatcher) History(limit int) []domain.Mission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	out := make([]domain.Mission, limit)
	copy(out, d.history[len(d.history)-limit:])
	return out
}

func (d *Dispatcher) persistCreate(ctx context.Context, m domain.Mission) {
	if d.store == nil {
		return
	}
	if err := d.store.Create(ctx, m); err != nil {
		d.logger.WarnContext(ctx, "mission persist failed",
			slog.String("mission_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) persistComplete(ctx context.Context, m domain.Mission) {
	if d.store == nil {
		return
	}
	if err := d.store.Complete(ctx, m.ID, m.FilledAmount, m.PnL, *m.CompletedAt); err != nil {
		d.logger.WarnContext(ctx, "mission completion persist failed",
			slog.String("mission_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
