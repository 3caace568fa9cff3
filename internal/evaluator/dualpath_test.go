package evaluator

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/calebhsu/signalmesh/internal/domain"
)

func newTestEvaluator() *Evaluator {
	return New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func target(symbol string, momentum float64) domain.ScannedTarget {
	return domain.ScannedTarget{Symbol: symbol, MomentumScore: momentum}
}

func TestEvaluateHoldsWhenBothPathsUnderwater(t *testing.T) {
	e := newTestEvaluator()

	// Entered at 100, now 99: gross loss, and no target momentum can save it.
	d := e.Evaluate("BTC", "binance", 1, 100, 99, []domain.ScannedTarget{target("ETHUSDT", 0.5)})
	assert.Equal(t, ActionHold, d.Action)
	assert.Negative(t, d.LiquidateNet)
}

func TestEvaluateLiquidatesWhenNoRotationBeatsIt(t *testing.T) {
	e := newTestEvaluator()

	// Solid gain, only weakly-rising targets on offer.
	d := e.Evaluate("BTC", "binance", 1, 100, 110, []domain.ScannedTarget{target("ETHUSDT", 0.1)})
	assert.Equal(t, ActionLiquidate, d.Action)
	assert.GreaterOrEqual(t, d.LiquidateNet, d.RotateNet)
}

func TestEvaluateRotatesIntoStrongTarget(t *testing.T) {
	e := newTestEvaluator()

	// A 10% mover at 0.25 capture adds ~2.5% of current value on top of the
	// same gross pnl; that beats plain liquidation.
	d := e.Evaluate("BTC", "binance", 1, 100, 110, []domain.ScannedTarget{
		target("SOLUSDT", 10),
		target("ETHUSDT", 4),
	})
	assert.Equal(t, ActionRotate, d.Action)
	assert.Equal(t, "SOLUSDT", d.RotateTarget)
	assert.Greater(t, d.RotateNet, d.LiquidateNet)
}

func TestEvaluateIgnoresFallingTargets(t *testing.T) {
	e := newTestEvaluator()

	d := e.Evaluate("BTC", "binance", 1, 100, 110, []domain.ScannedTarget{
		target("DOGEUSDT", -15),
	})
	assert.Equal(t, ActionLiquidate, d.Action)
	assert.Empty(t, d.RotateTarget)
}

func TestEvaluateChosenPathNeverWorseThanAlternative(t *testing.T) {
	e := newTestEvaluator()

	cases := []struct {
		entry, current float64
		momentum       float64
	}{
		{100, 95, 8},
		{100, 105, 8},
		{100, 105, 0.2},
		{100, 120, 15},
		{100, 100.1, 3},
	}
	for _, c := range cases {
		d := e.Evaluate("BTC", "binance", 2, c.entry, c.current, []domain.ScannedTarget{target("X", c.momentum)})
		if d.Action == ActionRotate {
			assert.GreaterOrEqual(t, d.RotateNet, d.LiquidateNet)
		}
		if d.Action == ActionLiquidate && d.RotateNet > d.LiquidateNet && d.RotateNet >= e.cfg.MinProfit {
			t.Errorf("liquidated past a clearing rotation: %+v", d)
		}
	}
}
