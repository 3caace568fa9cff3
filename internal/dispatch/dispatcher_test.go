package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/execution"
)

type fakeGate struct {
	allowed bool
	reason  string
	err     error
	calls   int
}

func (g *fakeGate) Assess(context.Context, domain.MissionProposal) (domain.GateVerdict, error) {
	g.calls++
	if g.err != nil {
		return domain.GateVerdict{}, g.err
	}
	return domain.GateVerdict{Allowed: g.allowed, Reason: g.reason, DecidedAt: time.Now()}, nil
}

type fakeBackend struct {
	err   error
	fills int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) PlaceConversion(_ context.Context, p domain.MissionProposal) (execution.Fill, error) {
	if b.err != nil {
		return execution.Fill{}, b.err
	}
	b.fills++
	return execution.Fill{Amount: p.Amount * 0.999, Price: 100, At: time.Now()}, nil
}

type fakeSinks struct {
	outcomes []string
	results  []string
	pnl      float64
}

func (s *fakeSinks) RecordOutcome(from, to string, profit float64) {
	s.outcomes = append(s.outcomes, from+"/"+to)
	s.pnl = profit
}

func (s *fakeSinks) RecordResult(base string, profit float64) {
	s.results = append(s.results, base)
}

func newTestDispatcher(gate RiskGate, backend execution.Backend, sinks *fakeSinks) *Dispatcher {
	cfg := DefaultConfig()
	cfg.Slots = map[domain.Doctrine]int{
		domain.DoctrineTrendFollowing:      2,
		domain.DoctrineCapitalPreservation: 1,
		domain.DoctrinePeerRotation:        1,
		domain.DoctrineExhaustiveSweep:     1,
	}
	return New(cfg, gate, backend, sinks, sinks, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func proposal(from, to string) domain.MissionProposal {
	return domain.MissionProposal{
		Direction: domain.DirectionTrend,
		Exchange:  "binance",
		FromAsset: from,
		ToAsset:   to,
		Amount:    1000,
		Score:     0.8,
	}
}

func TestDispatchCreatesMission(t *testing.T) {
	gate := &fakeGate{allowed: true, reason: "ok"}
	backend := &fakeBackend{}
	d := newTestDispatcher(gate, backend, &fakeSinks{})

	m, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.DoctrineTrendFollowing, m.Doctrine)
	assert.Equal(t, domain.MissionActive, m.Status)
	assert.InDelta(t, 999, m.FilledAmount, 1e-9)
	assert.Equal(t, "binance/DOGE", m.Key())
	assert.Len(t, d.Active(), 1)
}

func TestDispatchUnknownDirection(t *testing.T) {
	d := newTestDispatcher(&fakeGate{allowed: true}, &fakeBackend{}, &fakeSinks{})

	p := proposal("DOGE", "BTC")
	p.Direction = domain.Direction("sideways")
	_, err := d.Dispatch(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrUnknownDirection)
}

func TestDispatchAtCapacity(t *testing.T) {
	gate := &fakeGate{allowed: true}
	d := newTestDispatcher(gate, &fakeBackend{}, &fakeSinks{})

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), proposal("SHIB", "BTC"))
	require.NoError(t, err)

	calls := gate.calls
	_, err = d.Dispatch(context.Background(), proposal("PEPE", "BTC"))
	assert.ErrorIs(t, err, domain.ErrAtCapacity)
	// Admission runs before the gate; a full doctrine costs no gate call.
	assert.Equal(t, calls, gate.calls)
}

func TestDispatchDuplicateKeyBlocked(t *testing.T) {
	d := newTestDispatcher(&fakeGate{allowed: true}, &fakeBackend{}, &fakeSinks{})

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), proposal("DOGE", "ETH"))
	assert.ErrorIs(t, err, domain.ErrDuplicateMission)
}

func TestDispatchVetoed(t *testing.T) {
	backend := &fakeBackend{}
	d := newTestDispatcher(&fakeGate{allowed: false, reason: "exposure limit"}, backend, &fakeSinks{})

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	assert.ErrorIs(t, err, domain.ErrRiskGateVetoed)
	assert.Zero(t, backend.fills)
	assert.Empty(t, d.Active())
}

func TestDispatchGateDownFailOpen(t *testing.T) {
	gate := &fakeGate{err: errors.New("connection refused")}
	d := newTestDispatcher(gate, &fakeBackend{}, &fakeSinks{})

	m, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)
	assert.True(t, m.Verdict.DefaultAllowed)
	assert.True(t, m.Verdict.Allowed)
}

func TestDispatchGateDownFailClosed(t *testing.T) {
	gate := &fakeGate{err: errors.New("connection refused")}
	cfg := DefaultConfig()
	cfg.GatePolicy = GateFailClosed
	d := New(cfg, gate, &fakeBackend{}, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	assert.ErrorIs(t, err, domain.ErrRiskGateVetoed)
}

func TestDispatchExecutionFailureFreesSlot(t *testing.T) {
	backend := &fakeBackend{err: errors.New("venue down")}
	d := newTestDispatcher(&fakeGate{allowed: true}, backend, &fakeSinks{})

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.Error(t, err)
	assert.Empty(t, d.Active())

	// The key must be reusable once the failed handoff is rolled back.
	backend.err = nil
	_, err = d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	assert.NoError(t, err)
}

func TestCompleteMissionFeedsBothSinks(t *testing.T) {
	sinks := &fakeSinks{}
	d := newTestDispatcher(&fakeGate{allowed: true}, &fakeBackend{}, sinks)

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)

	m, err := d.CompleteMission(context.Background(), "binance", "DOGE", 0.12)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionCompleted, m.Status)
	assert.Equal(t, 0.12, m.PnL)
	require.NotNil(t, m.CompletedAt)

	assert.Equal(t, []string{"DOGE/BTC"}, sinks.outcomes)
	assert.Equal(t, []string{"DOGE"}, sinks.results)
	assert.Equal(t, 0.12, sinks.pnl)

	assert.Empty(t, d.Active())
	require.Len(t, d.History(10), 1)

	// Completing twice is a not-found, not a double feedback.
	_, err = d.CompleteMission(context.Background(), "binance", "DOGE", 0.12)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, sinks.outcomes, 1)
}

func TestCompleteFreesDoctrineSlot(t *testing.T) {
	d := newTestDispatcher(&fakeGate{allowed: true}, &fakeBackend{}, &fakeSinks{})

	_, err := d.Dispatch(context.Background(), proposal("DOGE", "BTC"))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), proposal("SHIB", "BTC"))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), proposal("PEPE", "BTC"))
	require.ErrorIs(t, err, domain.ErrAtCapacity)

	_, err = d.CompleteMission(context.Background(), "binance", "DOGE", 0.05)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), proposal("PEPE", "BTC"))
	assert.NoError(t, err)
}
