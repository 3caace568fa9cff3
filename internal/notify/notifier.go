// Package notify fans engine alerts out to operator channels (Telegram,
// Discord). Events can be filtered so an operator only hears about what they
// care about; a nil Notifier drops everything silently.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// Event types the engine emits.
const (
	EventMissionDispatched = "mission.dispatched"
	EventMissionCompleted  = "mission.completed"
	EventMissionVetoed     = "mission.vetoed"
	EventPositionClosed    = "position.closed"
	EventFeedDown          = "feed.down"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every registered sender, filtered by event type.
// All methods are safe on a nil receiver.
type Notifier struct {
	senders []Sender
	events  map[string]bool // empty means all events pass
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. With an empty events list every event type
// is forwarded.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards one event to every sender if its type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n == nil {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing channel never blocks the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// MissionDispatched formats and sends a dispatch alert.
func (n *Notifier) MissionDispatched(ctx context.Context, m domain.Mission) {
	_ = n.Notify(ctx, EventMissionDispatched, "Mission dispatched",
		fmt.Sprintf("%s: %s -> %s (%s), amount %.4f",
			m.Exchange, m.FromAsset, m.ToAsset, m.Doctrine, m.FilledAmount))
}

// MissionCompleted formats and sends a completion alert.
func (n *Notifier) MissionCompleted(ctx context.Context, m domain.Mission) {
	_ = n.Notify(ctx, EventMissionCompleted, "Mission completed",
		fmt.Sprintf("%s: %s -> %s, pnl %+.4f", m.Exchange, m.FromAsset, m.ToAsset, m.PnL))
}

// MissionVetoed reports a risk-gate veto.
func (n *Notifier) MissionVetoed(ctx context.Context, exchange, fromAsset, reason string) {
	_ = n.Notify(ctx, EventMissionVetoed, "Mission vetoed",
		fmt.Sprintf("%s/%s: %s", exchange, fromAsset, reason))
}

// PositionClosed reports a full exit.
func (n *Notifier) PositionClosed(ctx context.Context, p domain.Position, pnlPct float64) {
	_ = n.Notify(ctx, EventPositionClosed, "Position closed",
		fmt.Sprintf("%s %s @ %.4f, reason %s, pnl %+.2f%%",
			p.Exchange, p.Asset, p.ExitPrice, p.ExitReason, pnlPct))
}
