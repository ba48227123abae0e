package task

import (
	"github.com/nextlevelbuilder/astro/internal/msg"
)

// Weighted is one participant in a subdivision: self (weight 1) or a child
// (weight = its reported subswarm size).
type Weighted struct {
	ChildID uint32 // 0 means self
	Weight  uint32
}

// Allocation is the result of dividing one task's lines among self and its
// children.
type Allocation struct {
	OwnTarget     msg.Line // the single line self was allocated (post-split)
	OwnTargetPos  [3]float32
	ChildSubtasks map[uint32]msg.Task // per-child subtask, keyed by child id
}

// Divide implements the task subdivision algorithm: minimum allocation per
// line, surplus distribution maximizing length/effective_uavs, then walking
// the distribution to carve consecutive (possibly split) lines for self and
// each participant in order.
func Divide(t msg.Task, participants []Weighted) Allocation {
	lines := t.Lines
	least := make([]int, len(lines))
	total := 0
	for i, l := range lines {
		least[i] = l.NumLeastUAVs()
		total += least[i]
	}

	totalWeight := 0
	for _, p := range participants {
		totalWeight += int(p.Weight)
	}

	distrib := make([]int, len(lines))
	copy(distrib, least)
	surplus := totalWeight - total
	for surplus > 0 && len(lines) > 0 {
		bestIdx := bestDensityLine(lines, distrib)
		distrib[bestIdx]++
		surplus--
	}

	return walkDistribution(lines, distrib, participants)
}

// bestDensityLine returns the index maximizing length / effective_uavs,
// where effective_uavs = allocated - endpoints/2.
func bestDensityLine(lines []msg.Line, distrib []int) int {
	best := 0
	bestDensity := float32(-1)
	for i, l := range lines {
		effective := float32(distrib[i]) - l.EndpointWeight()
		if effective <= 0 {
			effective = 0.01
		}
		density := l.Length() / effective
		if density > bestDensity {
			bestDensity = density
			best = i
		}
	}
	return best
}

// walkDistribution carves consecutive pieces of the per-line allocation for
// self and each child, in participant order, splitting a line by arc length
// whenever a participant's weight is smaller than what remains of the
// current line's distribution.
func walkDistribution(lines []msg.Line, distrib []int, participants []Weighted) Allocation {
	out := Allocation{ChildSubtasks: make(map[uint32]msg.Task)}
	perChild := make(map[uint32][]msg.Line)

	lineIdx := 0
	remaining := msg.Line{}
	remainingAllotted := 0
	if len(lines) > 0 {
		remaining = lines[0]
		remainingAllotted = distrib[0]
	}

	advance := func() bool {
		lineIdx++
		if lineIdx >= len(lines) {
			return false
		}
		remaining = lines[lineIdx]
		remainingAllotted = distrib[lineIdx]
		return true
	}

	for _, p := range participants {
		if lineIdx >= len(lines) {
			break
		}
		var got []msg.Line
		needWeight := int(p.Weight)
		if needWeight <= 0 {
			needWeight = 1
		}
		for needWeight > 0 {
			if remainingAllotted <= needWeight {
				got = append(got, remaining)
				needWeight -= remainingAllotted
				if !advance() {
					break
				}
				continue
			}
			weightSplit := float32(needWeight)
			if remaining.Start {
				weightSplit -= 0.5
			}
			weightLeft := float32(remainingAllotted - needWeight)
			if remaining.End {
				weightLeft -= 0.5
			}
			if weightSplit < 0 {
				weightSplit = 0
			}
			if weightLeft < 0 {
				weightLeft = 0
			}
			ratio := float32(0.5)
			if weightSplit+weightLeft > 0 {
				ratio = weightSplit / (weightSplit + weightLeft)
			}
			left, right := remaining.SplitAt(ratio)
			got = append(got, left)
			remaining = right
			remainingAllotted -= needWeight
			needWeight = 0
		}

		if p.ChildID == 0 {
			out.OwnTarget = chooseOwnLine(got)
		} else {
			sub := t0Subtask(got)
			perChild[p.ChildID] = sub
		}
	}

	for cid, lines := range perChild {
		out.ChildSubtasks[cid] = msg.Task{Lines: lines}
	}
	return out
}

func t0Subtask(lines []msg.Line) []msg.Line { return lines }

// chooseOwnLine picks the single line self will target: per spec, self
// receives exactly one line out of its carved allocation. When a
// participant's share spans multiple pieces, only the first is used as the
// own-target line (the remainder should not occur for weight-1 self shares
// in a well-formed swarm, since self is never assigned more than one line
// of distribution).
func chooseOwnLine(got []msg.Line) msg.Line {
	if len(got) == 0 {
		return msg.Line{}
	}
	return got[0]
}
