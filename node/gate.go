package node

// Gate fires once every Period milliseconds on a wrapping 32 bit clock.
type Gate struct {
	Period uint32
	last   uint32
}

// NewGate returns a gate whose first fire is Period after zero.
func NewGate(period uint32) *Gate {
	return &Gate{Period: period}
}

// Fire reports whether Period has elapsed since the last fire and, if so,
// moves the reference point to now. Unsigned subtraction keeps the elapsed
// time correct across counter wraparound.
func (g *Gate) Fire(now uint32) bool {
	if now-g.last < g.Period {
		return false
	}
	g.last = now
	return true
}
