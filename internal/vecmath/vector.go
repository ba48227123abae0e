// Package vecmath implements the small 3-vector library shared by every
// control subsystem: positions, velocities, and the projections the
// collision-avoidance filter and follow-parent pursuit law need.
package vecmath

import (
	"math"
	"time"
)

// PosVec is a position or displacement in meters.
type PosVec struct {
	X, Y, Z float32
}

// Velocity is a rate of change in meters per second.
type Velocity struct {
	X, Y, Z float32
}

func (p PosVec) Add(o PosVec) PosVec { return PosVec{p.X + o.X, p.Y + o.Y, p.Z + o.Z} }
func (p PosVec) Sub(o PosVec) PosVec { return PosVec{p.X - o.X, p.Y - o.Y, p.Z - o.Z} }
func (p PosVec) Scale(k float32) PosVec { return PosVec{p.X * k, p.Y * k, p.Z * k} }

// SquaredNorm avoids the sqrt when only a comparison is needed.
func (p PosVec) SquaredNorm() float32 { return p.X*p.X + p.Y*p.Y + p.Z*p.Z }

func (p PosVec) Norm() float32 { return float32(math.Sqrt(float64(p.SquaredNorm()))) }

// Unit returns the zero vector when norm is zero, rather than NaN.
func (p PosVec) Unit() PosVec {
	n := p.Norm()
	if n == 0 {
		return PosVec{}
	}
	return p.Scale(1 / n)
}

func (p PosVec) Dot(o PosVec) float32 { return p.X*o.X + p.Y*o.Y + p.Z*o.Z }

// Parallel returns the component of p parallel to dir.
func (p PosVec) Parallel(dir PosVec) PosVec {
	u := dir.Unit()
	return u.Scale(p.Dot(u))
}

// Perpendicular returns the component of p orthogonal to dir.
func (p PosVec) Perpendicular(dir PosVec) PosVec {
	return p.Sub(p.Parallel(dir))
}

// LimitNorm caps p's magnitude to max, leaving it unchanged if already within.
func (p PosVec) LimitNorm(max float32) PosVec {
	n := p.Norm()
	if n <= max || n == 0 {
		return p
	}
	return p.Scale(max / n)
}

// DivDuration converts a displacement accumulated over dt into a velocity.
func (p PosVec) DivDuration(dt time.Duration) Velocity {
	s := float32(dt.Seconds())
	if s == 0 {
		return Velocity{}
	}
	return Velocity{p.X / s, p.Y / s, p.Z / s}
}

// Distance is the Euclidean distance between two points.
func Distance(a, b PosVec) float32 { return b.Sub(a).Norm() }

func (v Velocity) Add(o Velocity) Velocity { return Velocity{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Velocity) Sub(o Velocity) Velocity { return Velocity{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Velocity) Scale(k float32) Velocity { return Velocity{v.X * k, v.Y * k, v.Z * k} }
func (v Velocity) Div(k float32) Velocity {
	if k == 0 {
		return Velocity{}
	}
	return Velocity{v.X / k, v.Y / k, v.Z / k}
}

func (v Velocity) AsPosVec() PosVec { return PosVec{v.X, v.Y, v.Z} }

func (v Velocity) SquaredNorm() float32 { return v.AsPosVec().SquaredNorm() }
func (v Velocity) Norm() float32        { return v.AsPosVec().Norm() }

func (v Velocity) Dot(o Velocity) float32 { return v.AsPosVec().Dot(o.AsPosVec()) }

// Parallel returns the component of v parallel to a reference vector, given
// as a PosVec (direction usually comes from a position delta).
func (v Velocity) Parallel(dir PosVec) Velocity {
	return v.AsPosVec().Parallel(dir).AsVelocity()
}

func (v Velocity) Perpendicular(dir PosVec) Velocity {
	return v.AsPosVec().Perpendicular(dir).AsVelocity()
}

// ParallelComponent returns the signed scalar projection of v onto dir: how
// much of v points toward dir (positive) versus away from it (negative).
func (v Velocity) ParallelComponent(dir PosVec) float32 {
	u := dir.Unit()
	return v.Dot(u.AsVelocity())
}

func (v Velocity) LimitNorm(max float32) Velocity {
	return v.AsPosVec().LimitNorm(max).AsVelocity()
}

// Displacement computes the displacement a velocity produces over a duration.
func (v Velocity) Displacement(dt time.Duration) PosVec {
	s := float32(dt.Seconds())
	return PosVec{v.X * s, v.Y * s, v.Z * s}
}

func (p PosVec) AsVelocity() Velocity { return Velocity{p.X, p.Y, p.Z} }

// Zero velocity, spelled out for readability at call sites.
func Zero() Velocity { return Velocity{} }
