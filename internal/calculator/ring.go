package calculator

import "github.com/shopspring/decimal"

// closeRing is a bounded ring of close prices. Pushing past capacity drops
// the oldest entry. Sized to the largest MA window so SMA(n) is always a
// suffix mean.
type closeRing struct {
	buf   []decimal.Decimal
	head  int
	count int
}

func newCloseRing(capacity int) *closeRing {
	return &closeRing{buf: make([]decimal.Decimal, capacity)}
}

func (r *closeRing) Push(v decimal.Decimal) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *closeRing) Len() int { return r.count }

// SMA returns the simple mean of the newest n entries. ok is false until n
// entries have been observed.
func (r *closeRing) SMA(n int) (decimal.Decimal, bool) {
	if n <= 0 || r.count < n {
		return decimal.Decimal{}, false
	}
	sum := decimal.Zero
	idx := r.head - n
	if idx < 0 {
		idx += len(r.buf)
	}
	for i := 0; i < n; i++ {
		sum = sum.Add(r.buf[idx])
		idx = (idx + 1) % len(r.buf)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}
