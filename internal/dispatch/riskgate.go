package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// RiskGate is the external approval authority for mission proposals. Assess
// returns an error only when the gate itself is unreachable; a veto is a
// successful call with Allowed=false.
type RiskGate interface {
	Assess(ctx context.Context, p domain.MissionProposal) (domain.GateVerdict, error)
}

// GatePolicy decides what happens when the gate is unreachable.
type GatePolicy string

const (
	// GateFailOpen allows the mission and flags the verdict as defaulted.
	GateFailOpen GatePolicy = "fail_open"
	// GateFailClosed treats unreachable as a veto.
	GateFailClosed GatePolicy = "fail_closed"
)

const defaultGateTimeout = 3 * time.Second

// HTTPGate asks a remote risk service over HTTP. The proposal is POSTed as
// JSON; the response carries {"allowed": bool, "reason": string}.
type HTTPGate struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

var _ RiskGate = (*HTTPGate)(nil)

// NewHTTPGate constructs a gate client for the given endpoint.
func NewHTTPGate(url string, timeout time.Duration) *HTTPGate {
	if timeout <= 0 {
		timeout = defaultGateTimeout
	}
	return &HTTPGate{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type gateRequest struct {
	Doctrine  string  `json:"doctrine"`
	Direction string  `json:"direction"`
	Exchange  string  `json:"exchange"`
	FromAsset string  `json:"from_asset"`
	ToAsset   string  `json:"to_asset"`
	Amount    float64 `json:"amount"`
	Score     float64 `json:"score"`
}

type gateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (g *HTTPGate) Assess(ctx context.Context, p domain.MissionProposal) (domain.GateVerdict, error) {
	body, err := json.Marshal(gateRequest{
		Doctrine:  string(p.Doctrine),
		Direction: string(p.Direction),
		Exchange:  p.Exchange,
		FromAsset: p.FromAsset,
		ToAsset:   p.ToAsset,
		Amount:    p.Amount,
		Score:     p.Score,
	})
	if err != nil {
		return domain.GateVerdict{}, fmt.Errorf("riskgate: marshal proposal: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.GateVerdict{}, fmt.Errorf("riskgate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.GateVerdict{}, fmt.Errorf("riskgate: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GateVerdict{}, fmt.Errorf("riskgate: call: unexpected status %d", resp.StatusCode)
	}

	var out gateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.GateVerdict{}, fmt.Errorf("riskgate: decode response: %w", err)
	}
	return domain.GateVerdict{
		Allowed:   out.Allowed,
		Reason:    out.Reason,
		DecidedAt: time.Now().UTC(),
	}, nil
}

// AllowAllGate approves everything. Used in scan and paper modes where no
// external risk authority is configured.
type AllowAllGate struct{}

var _ RiskGate = AllowAllGate{}

func (AllowAllGate) Assess(context.Context, domain.MissionProposal) (domain.GateVerdict, error) {
	return domain.GateVerdict{Allowed: true, Reason: "no gate configured", DecidedAt: time.Now().UTC()}, nil
}
