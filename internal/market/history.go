package market

import "time"

// pricePoint is one sample in a symbol's rolling history.
type pricePoint struct {
	price float64
	at    time.Time
}

// priceHistory is a bounded ring of recent price samples. Append evicts the
// oldest sample once the ring is full. Not safe for concurrent use; the
// cache's shard lock guards it.
type priceHistory struct {
	points []pricePoint
	next   int
	full   bool
}

func newPriceHistory(size int) *priceHistory {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &priceHistory{points: make([]pricePoint, size)}
}

func (h *priceHistory) append(price float64, at time.Time) {
	h.points[h.next] = pricePoint{price: price, at: at}
	h.next = (h.next + 1) % len(h.points)
	if h.next == 0 {
		h.full = true
	}
}

// ordered returns samples oldest-first.
func (h *priceHistory) ordered() []pricePoint {
	if !h.full {
		out := make([]pricePoint, h.next)
		copy(out, h.points[:h.next])
		return out
	}
	out := make([]pricePoint, 0, len(h.points))
	out = append(out, h.points[h.next:]...)
	out = append(out, h.points[:h.next]...)
	return out
}

// momentum returns the percent change between the oldest sample inside the
// window and the newest sample. Zero when fewer than two samples qualify.
func (h *priceHistory) momentum(now time.Time, window time.Duration) float64 {
	pts := h.ordered()
	cutoff := now.Add(-window)
	start := -1
	for i, p := range pts {
		if !p.at.Before(cutoff) {
			start = i
			break
		}
	}
	if start < 0 || len(pts)-start < 2 {
		return 0
	}
	first := pts[start].price
	last := pts[len(pts)-1].price
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

// prices returns the raw price series oldest-first, for provider contexts.
func (h *priceHistory) prices() []float64 {
	pts := h.ordered()
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.price
	}
	return out
}
