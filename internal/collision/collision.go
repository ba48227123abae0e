// Package collision implements the last-stage safety filter every commanded
// velocity passes through before reaching the actuator: it never steers
// toward a goal, only away from neighbors predicted to get too close.
package collision

import (
	"sort"
	"time"

	"github.com/nextlevelbuilder/astro/internal/contacts"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

const (
	DefaultTimeScale           = 2 * time.Second
	DefaultMinimalAlertDistRatio = 10.0
	DefaultModestNumDangers    = 2
	DefaultEvasionTimeScale    = 2 * time.Second
	DefaultEvasionDistRatio    = 5.0

	// evasionWeightDecay is the per-rank falloff applied when blending
	// evasive components from multiple simultaneous dangers.
	evasionWeightDecay = 0.3
)

// Filter adjusts an aimed velocity to avoid nearby neighbors. Its thresholds
// scale with the agent's own physical radius.
type Filter struct {
	tScale           time.Duration
	modestNumDangers int
	minimalAlertDist float32
	evasionDist      float32
}

// New builds a filter for an agent with the given physical radius.
func New(uavRadius float32) *Filter {
	return &Filter{
		tScale:           DefaultTimeScale,
		modestNumDangers: DefaultModestNumDangers,
		minimalAlertDist: uavRadius * DefaultMinimalAlertDistRatio,
		evasionDist:      uavRadius * DefaultEvasionDistRatio,
	}
}

// GetSafeV returns the velocity to actually command this tick: vAim
// unchanged when nothing is dangerous, otherwise a blend that strips the
// component flying toward the nearest threats.
func (f *Filter) GetSafeV(vAim vecmath.Velocity, pSelf vecmath.PosVec, neighbors []*contacts.Contact, now time.Time) vecmath.Velocity {
	dangers := f.pickDangers(vAim, pSelf, neighbors, now)
	if len(dangers) == 0 {
		return vAim
	}

	cappedV := f.getCappedV(vAim, pSelf, dangers, now)
	evasionSum := cappedV
	weightSum := float32(1.0)

	n := len(dangers)
	if n > f.modestNumDangers {
		n = f.modestNumDangers
	}
	for idx := 0; idx < n; idx++ {
		d := dangers[idx]
		direct := d.PredictPos(now).Sub(pSelf)
		if cappedV.ParallelComponent(direct) <= 0 {
			continue
		}
		capLimit := direct.DivDuration(DefaultEvasionTimeScale).Norm()
		evasionV := cappedV.Perpendicular(direct).Add(cappedV.Parallel(direct).LimitNorm(capLimit))
		weight := pow32(evasionWeightDecay, idx)
		evasionSum = evasionSum.Add(evasionV.Scale(weight))
		weightSum += weight
	}
	evasionV := evasionSum.Div(weightSum)
	return f.evade(evasionV, pSelf, dangers[0], now)
}

// evade strips the velocity component pointing straight at the single
// nearest danger once it is close enough that soft blending isn't enough.
func (f *Filter) evade(v vecmath.Velocity, pSelf vecmath.PosVec, danger *contacts.Contact, now time.Time) vecmath.Velocity {
	if vecmath.Distance(danger.PredictPos(now), pSelf) > f.evasionDist {
		return v
	}
	direct := danger.PredictPos(now).Sub(pSelf)
	if v.ParallelComponent(direct) <= 0 {
		return v
	}
	return v.Perpendicular(direct)
}

// getCappedV limits how hard the agent may accelerate away from the average
// neighbor velocity once there are enough simultaneous dangers that treating
// them individually would be unstable.
func (f *Filter) getCappedV(vAim vecmath.Velocity, pSelf vecmath.PosVec, dangers []*contacts.Contact, now time.Time) vecmath.Velocity {
	if len(dangers) <= f.modestNumDangers {
		return vAim
	}
	vAve := vecmath.Zero()
	for _, d := range dangers {
		vAve = vAve.Add(d.Desc.V)
	}
	vAve = vAve.Div(float32(len(dangers)))

	maxMovement := dangers[f.modestNumDangers].PredictPos(now).Sub(pSelf)
	deltaCap := maxMovement.DivDuration(f.tScale).Norm()
	delta := vAim.Sub(vAve).LimitNorm(deltaCap)
	return vAve.Add(delta)
}

// pickDangers returns neighbors within alert range, nearest first.
func (f *Filter) pickDangers(vAim vecmath.Velocity, pSelf vecmath.PosVec, neighbors []*contacts.Contact, now time.Time) []*contacts.Contact {
	alertDist := vAim.Displacement(f.tScale).Norm()
	if f.minimalAlertDist > alertDist {
		alertDist = f.minimalAlertDist
	}

	dangers := make([]*contacts.Contact, 0, len(neighbors))
	for _, n := range neighbors {
		if vecmath.Distance(n.PredictPos(now), pSelf) <= alertDist {
			dangers = append(dangers, n)
		}
	}
	sort.Slice(dangers, func(i, j int) bool {
		return vecmath.Distance(dangers[i].PredictPos(now), pSelf) < vecmath.Distance(dangers[j].PredictPos(now), pSelf)
	})
	return dangers
}

func pow32(base float32, exp int) float32 {
	result := float32(1.0)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
