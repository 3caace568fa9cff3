// Package evaluator decides between liquidating a holding to quote and
// rotating it into a stronger symbol, pricing both paths net of costs.
package evaluator

import (
	"fmt"
	"log/slog"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// Action is the evaluator's verdict for a holding.
type Action string

const (
	ActionLiquidate Action = "LIQUIDATE"
	ActionRotate    Action = "ROTATE"
	ActionHold      Action = "HOLD"
)

// Cost model defaults. Capture fraction discounts a rotation target's
// momentum: only a quarter of the displayed move is assumed capturable.
const (
	defaultFeeRate         = 0.001
	defaultSlippageRate    = 0.0005
	defaultCaptureFraction = 0.25
	defaultMinProfit       = 1.0
)

// Config holds the cost-model constants.
type Config struct {
	FeeRate         float64
	SlippageRate    float64
	CaptureFraction float64
	// MinProfit is the floor (in quote units) a path must clear to be worth
	// acting on at all.
	MinProfit float64
}

// DefaultConfig returns the tuned cost model.
func DefaultConfig() Config {
	return Config{
		FeeRate:         defaultFeeRate,
		SlippageRate:    defaultSlippageRate,
		CaptureFraction: defaultCaptureFraction,
		MinProfit:       defaultMinProfit,
	}
}

// Decision is the evaluator's output: the chosen action, the winning rotation
// target when rotating, and the net estimates that justified it.
type Decision struct {
	Action       Action
	RotateTarget string
	LiquidateNet float64
	RotateNet    float64
	Rationale    string
}

// Evaluator prices the liquidate and rotate paths for a holding.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an Evaluator, filling zero config fields from the defaults.
func New(cfg Config, logger *slog.Logger) *Evaluator {
	def := DefaultConfig()
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = def.FeeRate
	}
	if cfg.SlippageRate <= 0 {
		cfg.SlippageRate = def.SlippageRate
	}
	if cfg.CaptureFraction <= 0 {
		cfg.CaptureFraction = def.CaptureFraction
	}
	if cfg.MinProfit <= 0 {
		cfg.MinProfit = def.MinProfit
	}
	return &Evaluator{cfg: cfg, logger: logger.With(slog.String("component", "dual_path_evaluator"))}
}

// Evaluate compares exiting to quote against rotating into the best of the
// candidate targets. Targets without positive momentum are not rotation
// candidates. When neither path clears the minimum-profit floor the verdict
// is HOLD.
func (e *Evaluator) Evaluate(asset, exchange string, quantity, entryPrice, currentPrice float64, topTargets []domain.ScannedTarget) Decision {
	grossPnL := quantity * (currentPrice - entryPrice)
	currentValue := quantity * currentPrice

	// Exit to quote pays the round-trip estimate: entry cost already sunk plus
	// the exit leg, both with slippage.
	liquidateNet := grossPnL - currentValue*2*(e.cfg.FeeRate+e.cfg.SlippageRate)

	bestRotateNet := 0.0
	bestTarget := ""
	for _, t := range topTargets {
		if t.MomentumScore <= 0 {
			continue
		}
		// The rotation keeps the liquidation's sunk costs and adds one more
		// conversion fee, in exchange for a discounted share of the target's
		// momentum.
		rotateNet := grossPnL +
			currentValue*(t.MomentumScore/100)*e.cfg.CaptureFraction -
			currentValue*e.cfg.FeeRate -
			currentValue*2*(e.cfg.FeeRate+e.cfg.SlippageRate)
		if bestTarget == "" || rotateNet > bestRotateNet {
			bestRotateNet = rotateNet
			bestTarget = t.Symbol
		}
	}

	d := Decision{
		LiquidateNet: liquidateNet,
		RotateNet:    bestRotateNet,
	}

	liquidateClears := liquidateNet >= e.cfg.MinProfit
	rotateClears := bestTarget != "" && bestRotateNet >= e.cfg.MinProfit

	switch {
	case !liquidateClears && !rotateClears:
		d.Action = ActionHold
		d.Rationale = fmt.Sprintf("neither path clears the %.2f floor (liquidate %.2f, rotate %.2f)",
			e.cfg.MinProfit, liquidateNet, bestRotateNet)
	case rotateClears && bestRotateNet > liquidateNet:
		d.Action = ActionRotate
		d.RotateTarget = bestTarget
		d.Rationale = fmt.Sprintf("rotation into %s nets %.2f vs %.2f liquidating",
			bestTarget, bestRotateNet, liquidateNet)
	case liquidateClears:
		d.Action = ActionLiquidate
		d.Rationale = fmt.Sprintf("liquidation nets %.2f, no rotation beats it", liquidateNet)
	default:
		d.Action = ActionHold
		d.Rationale = "no profitable path"
	}

	e.logger.Debug("path evaluated",
		slog.String("asset", asset),
		slog.String("exchange", exchange),
		slog.String("action", string(d.Action)),
		slog.Float64("liquidate_net", liquidateNet),
		slog.Float64("rotate_net", bestRotateNet),
	)
	return d
}
