package gps

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/astro/internal/transport"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

func TestUpdate_FalseUntilFirstFix(t *testing.T) {
	c := NewClient(&transport.Transceiver{})
	if c.Update(time.Now()) {
		t.Fatal("expected Update to report false before any GPS_ reading")
	}
	if c.PredictPos(time.Now(), vecmath.Velocity{}).X != 0 {
		t.Fatal("expected zero-value prediction before any fix")
	}
}

func TestPredictPos_DeadReckonsFromLastFix(t *testing.T) {
	c := &Client{lastPos: vecmath.PosVec{X: 10}, lastTime: time.Now(), has: true}
	v := vecmath.Velocity{X: 2}
	later := c.lastTime.Add(3 * time.Second)
	got := c.PredictPos(later, v)
	if got.X != 16 {
		t.Fatalf("PredictPos = %+v, want x=16 (10 + 2*3)", got)
	}
}
