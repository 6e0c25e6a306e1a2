package market

import "tycoon/internal/num"

type PricePoint struct {
	Tick  uint64      `json:"tick"`
	Price num.Decimal `json:"price"`
}

// History is a fixed-capacity ring of price points; pushing onto a full ring
// evicts the oldest point.
type History struct {
	buf   []PricePoint
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]PricePoint, capacity)}
}

func (h *History) Push(p PricePoint) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = p
		h.size++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.buf) }

func (h *History) Last() (PricePoint, bool) {
	if h.size == 0 {
		return PricePoint{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Points returns a copy, oldest first.
func (h *History) Points() []PricePoint {
	out := make([]PricePoint, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Reset() {
	for i := range h.buf {
		h.buf[i] = PricePoint{}
	}
	h.start, h.size = 0, 0
}
