package vecmath

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestPosVecArithmetic(t *testing.T) {
	a := PosVec{1, 2, 3}
	b := PosVec{4, 5, 6}

	if got := a.Add(b); got != (PosVec{5, 7, 9}) {
		t.Errorf("Add = %v, want {5 7 9}", got)
	}
	if got := b.Sub(a); got != (PosVec{3, 3, 3}) {
		t.Errorf("Sub = %v, want {3 3 3}", got)
	}
	if got := a.Scale(2); got != (PosVec{2, 4, 6}) {
		t.Errorf("Scale = %v, want {2 4 6}", got)
	}
}

func TestNormAndUnit(t *testing.T) {
	v := PosVec{3, 4, 0}
	if !almostEqual(v.Norm(), 5) {
		t.Errorf("Norm = %v, want 5", v.Norm())
	}
	u := v.Unit()
	if !almostEqual(u.Norm(), 1) {
		t.Errorf("Unit norm = %v, want 1", u.Norm())
	}
	if got := (PosVec{}).Unit(); got != (PosVec{}) {
		t.Errorf("Unit of zero vector = %v, want zero", got)
	}
}

func TestParallelPerpendicular(t *testing.T) {
	v := Velocity{1, 1, 0}
	dir := PosVec{1, 0, 0}

	paral := v.Parallel(dir)
	if !almostEqual(paral.X, 1) || !almostEqual(paral.Y, 0) {
		t.Errorf("Parallel = %v, want {1 0 0}", paral)
	}
	perp := v.Perpendicular(dir)
	if !almostEqual(perp.X, 0) || !almostEqual(perp.Y, 1) {
		t.Errorf("Perpendicular = %v, want {0 1 0}", perp)
	}
	// parallel + perpendicular reconstructs the original.
	sum := paral.Add(perp)
	if !almostEqual(sum.X, v.X) || !almostEqual(sum.Y, v.Y) {
		t.Errorf("Parallel+Perpendicular = %v, want %v", sum, v)
	}
}

func TestParallelComponentSign(t *testing.T) {
	dir := PosVec{1, 0, 0}
	toward := Velocity{1, 0, 0}
	away := Velocity{-1, 0, 0}

	if c := toward.ParallelComponent(dir); c <= 0 {
		t.Errorf("toward component = %v, want > 0", c)
	}
	if c := away.ParallelComponent(dir); c >= 0 {
		t.Errorf("away component = %v, want < 0", c)
	}
}

func TestLimitNorm(t *testing.T) {
	v := Velocity{10, 0, 0}
	limited := v.LimitNorm(3)
	if !almostEqual(limited.Norm(), 3) {
		t.Errorf("LimitNorm = %v, want norm 3", limited)
	}
	unaffected := Velocity{1, 0, 0}.LimitNorm(3)
	if !almostEqual(unaffected.Norm(), 1) {
		t.Errorf("LimitNorm below cap changed vector: %v", unaffected)
	}
}

func TestDisplacementAndDivDuration(t *testing.T) {
	v := Velocity{2, 0, 0}
	d := v.Displacement(2 * time.Second)
	if !almostEqual(d.X, 4) {
		t.Errorf("Displacement = %v, want X=4", d)
	}
	back := d.DivDuration(2 * time.Second)
	if !almostEqual(back.X, 2) {
		t.Errorf("DivDuration = %v, want X=2", back)
	}
	if got := (PosVec{1, 2, 3}).DivDuration(0); got != (Velocity{}) {
		t.Errorf("DivDuration by zero = %v, want zero", got)
	}
}

func TestDistance(t *testing.T) {
	a := PosVec{0, 0, 0}
	b := PosVec{3, 4, 0}
	if d := Distance(a, b); !almostEqual(d, 5) {
		t.Errorf("Distance = %v, want 5", d)
	}
}
