package node

import (
	"math"
	"time"
)

// childAddingRate is a leaky counter: each adoption bumps it by one, and it
// decays continuously toward zero so a root that just absorbed several
// children throttles further adoptions until subswarm-size data has had
// time to stabilize.
type childAddingRate struct {
	value    float32
	lastTick time.Time
}

func newChildAddingRate(now time.Time) *childAddingRate {
	return &childAddingRate{lastTick: now}
}

func (r *childAddingRate) decay(now time.Time, timescale time.Duration) {
	dt := now.Sub(r.lastTick)
	r.lastTick = now
	if dt <= 0 || timescale <= 0 {
		return
	}
	factor := math.Exp(-dt.Seconds() / timescale.Seconds())
	r.value *= float32(factor)
}

func (r *childAddingRate) bump() { r.value += 1 }

func (r *childAddingRate) exceeds(limit float32) bool { return r.value > limit }
