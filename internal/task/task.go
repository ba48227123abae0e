// Package task implements the recursive task subdivision and execution
// state machine each node runs over the tree formed by internal/node: how a
// GCS-issued formation task propagates to the root, waits for the whole
// subtree to acknowledge it, is divided across children weighted by
// subswarm size, and is executed and aggregated back to a terminal result.
package task

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

// DefaultPosMaintainPrecision is how close to the target position counts as
// "arrived", before the dwell timer for task.Duration starts.
const DefaultPosMaintainPrecision = 0.5

// execution is the node's progress on its single currently-allocated task.
type execution struct {
	task        msg.Task
	state       string // msg.Subswarm{Received,Aligned,Allocated,Success,Failure}
	ownTarget   vecmath.PosVec
	hasOwnTarget bool
	subdivided  bool
	subtasks    map[uint32]msg.Task
	onPosSince  *time.Time
	selfArrived bool
}

// Manager owns one node's task queue and current execution.
type Manager struct {
	isRoot  bool
	queued  []msg.Task
	old     map[uint32]bool
	current *execution
}

func NewManager() *Manager {
	return &Manager{old: make(map[uint32]bool)}
}

// SetRoot updates whether this node currently acts as a tree root. Node
// managers call this whenever the node's position in the tree changes.
func (m *Manager) SetRoot(isRoot bool) { m.isRoot = isRoot }

// IsFree reports whether the node has no task in flight.
func (m *Manager) IsFree() bool { return m.current == nil }

// CurrentTaskID returns the id of the task in progress, if any.
func (m *Manager) CurrentTaskID() (uint32, bool) {
	if m.current == nil {
		return 0, false
	}
	return m.current.task.ID, true
}

// OwnState reports this node's own progression on the current task, for
// inclusion in the NodeDetails sent to its parent.
func (m *Manager) OwnState() msg.SubswarmTaskState {
	if m.current == nil {
		return msg.NoneTaskState()
	}
	return msg.TaskStateOf(m.current.state, m.current.task.ID)
}

// RelayOrAcceptTask implements the non-root-relays / root-enqueues split: it
// reports whether the caller (the node manager) must relay t upward to its
// parent instead of queuing it locally.
func (m *Manager) RelayOrAcceptTask(t msg.Task) (relay bool) {
	if !m.isRoot {
		return true
	}
	m.AddTaskIfNew(t)
	return false
}

// AddTaskIfNew enqueues t unless it is the task in progress, already queued,
// or was already completed (success or failure).
func (m *Manager) AddTaskIfNew(t msg.Task) {
	if m.current != nil && m.current.task.ID == t.ID {
		return
	}
	for _, q := range m.queued {
		if q.ID == t.ID {
			return
		}
	}
	if m.old[t.ID] {
		return
	}
	m.queued = append(m.queued, t.Clone())
}

// ManageRootState pops the next queued task once the root is Free or has
// just reached a terminal state on the previous one.
func (m *Manager) ManageRootState() {
	if !m.isRoot {
		return
	}
	if m.current != nil && !isTerminal(m.current.state) {
		return
	}
	if m.current != nil {
		m.old[m.current.task.ID] = true
		m.current = nil
	}
	if len(m.queued) == 0 {
		return
	}
	next := m.queued[0]
	m.queued = m.queued[1:]
	m.current = &execution{task: next, state: msg.SubswarmReceived}
	// the root originates the task, so it is its own Subtask immediately.
	m.current.subtasks = nil
}

// ReceiveSubtask installs t as this node's own allocated task, as delivered
// by its parent's subdivision. Non-root nodes become InTask only this way.
func (m *Manager) ReceiveSubtask(t msg.Task) {
	m.current = &execution{task: t, state: msg.SubswarmReceived}
}

// FailCurrent marks the in-progress task Failure immediately, used when a
// child holding the task is lost to contact or connection timeout.
func (m *Manager) FailCurrent() {
	if m.current != nil {
		m.current.state = msg.SubswarmFailure
	}
}

// ResetToFree clears the current task, used when a non-root node learns
// (via its parent's propagated NodeDesc/NodeDetails) that the swarm has
// returned to Free upstream. Without this, a node whose task reached a
// terminal state would stay InTask forever once its ancestor moved on,
// since only the root's own ManageRootState ever nils out m.current.
func (m *Manager) ResetToFree() {
	if m.current == nil {
		return
	}
	m.old[m.current.task.ID] = true
	m.current = nil
}

func isTerminal(s string) bool {
	return s == msg.SubswarmSuccess || s == msg.SubswarmFailure
}

// ChildReport is one child's own reported progression, gathered by the node
// manager from the child's last NodeDetails.
type ChildReport struct {
	ChildID  uint32
	Subswarm uint32
	State    msg.SubswarmTaskState
}

// Step advances the current task's state machine by one tick. commPoint is
// the comm_point inherited from the parent's own target (nil for root).
// It returns the Subtask messages to emit to children (only non-empty the
// tick subdivision completes), whether the task moved to Failure this tick,
// and the subdivision error when that failure came from an infeasible
// comm-range check.
func (m *Manager) Step(now time.Time, pSelf vecmath.PosVec, contactRange float32, children []ChildReport, commPoint *vecmath.PosVec) (childSubtasks map[uint32]msg.Task, failed bool, err error) {
	if m.current == nil {
		return nil, false, nil
	}
	cur := m.current
	tid := cur.task.ID

	// contact loss/failure aggregation applies regardless of phase.
	for _, c := range children {
		if c.State.Kind == msg.SubswarmFailure && c.State.IsForTask(tid) {
			cur.state = msg.SubswarmFailure
			return nil, true, nil
		}
	}

	switch cur.state {
	case msg.SubswarmReceived:
		if allAligned(children, tid) {
			cur.state = msg.SubswarmAligned
		}
	case msg.SubswarmAligned:
		if !cur.subdivided {
			subtasks, ownTarget, cerr := m.subdivide(cur, children, contactRange, commPoint)
			if cerr != nil {
				cur.state = msg.SubswarmFailure
				return nil, true, cerr
			}
			cur.subtasks = subtasks
			cur.ownTarget = ownTarget
			cur.hasOwnTarget = true
			cur.subdivided = true
			cur.state = msg.SubswarmAllocated
			return subtasks, false, nil
		}
	case msg.SubswarmAllocated:
		m.advanceExecution(now, pSelf, cur)
		if cur.selfArrived && allSuccess(children, tid) {
			cur.state = msg.SubswarmSuccess
		}
	}
	return nil, false, nil
}

func allAligned(children []ChildReport, tid uint32) bool {
	for _, c := range children {
		if c.State.Kind == msg.SubswarmNone || (c.State.Kind == msg.SubswarmReceived && c.State.IsForTask(tid)) {
			return false
		}
	}
	return true
}

func allSuccess(children []ChildReport, tid uint32) bool {
	for _, c := range children {
		if !(c.State.Kind == msg.SubswarmSuccess && c.State.IsForTask(tid)) {
			return false
		}
	}
	return true
}

// advanceExecution implements the arrival/dwell monitor: hold position
// within DefaultPosMaintainPrecision for the task's full duration before
// reporting the node's own arrival.
func (m *Manager) advanceExecution(now time.Time, pSelf vecmath.PosVec, cur *execution) {
	if cur.selfArrived || !cur.hasOwnTarget {
		return
	}
	d := vecmath.Distance(pSelf, cur.ownTarget)
	if d > DefaultPosMaintainPrecision {
		cur.onPosSince = nil
		return
	}
	if cur.onPosSince == nil {
		t := now
		cur.onPosSince = &t
		return
	}
	if now.Sub(*cur.onPosSince) >= cur.task.Duration {
		cur.selfArrived = true
	}
}

// CommPoint returns the comm_point inherited from the parent's subdivision
// for the task currently in progress, if any.
func (m *Manager) CommPoint() *vecmath.PosVec {
	if m.current == nil {
		return nil
	}
	return m.current.task.CommPoint
}

// OwnTarget returns the position this node should fly to this tick, if it
// currently has an in-task target.
func (m *Manager) OwnTarget() (vecmath.PosVec, bool) {
	if m.current == nil || !m.current.hasOwnTarget {
		return vecmath.PosVec{}, false
	}
	return m.current.ownTarget, true
}

// subdivide runs the subdivision algorithm over cur.task using self plus
// every child weighted by reported subswarm size, then verifies the
// comm-range feasibility constraint against the inherited comm_point.
func (m *Manager) subdivide(cur *execution, children []ChildReport, contactRange float32, commPoint *vecmath.PosVec) (map[uint32]msg.Task, vecmath.PosVec, error) {
	participants := []Weighted{{ChildID: 0, Weight: 1}}
	for _, c := range children {
		w := c.Subswarm
		if w == 0 {
			w = 1
		}
		participants = append(participants, Weighted{ChildID: c.ChildID, Weight: w})
	}

	alloc := Divide(cur.task, participants)
	ownTarget := ownTargetOfLine(alloc.OwnTarget)

	if commPoint != nil {
		if vecmath.Distance(ownTarget, *commPoint) >= contactRange {
			return nil, vecmath.PosVec{}, fmt.Errorf("task: subdivision infeasible, own target %.2fm from comm point exceeds contact range %.2fm",
				vecmath.Distance(ownTarget, *commPoint), contactRange)
		}
	}

	out := make(map[uint32]msg.Task, len(alloc.ChildSubtasks))
	for cid, sub := range alloc.ChildSubtasks {
		sub.ID = cur.task.ID
		sub.Duration = cur.task.Duration
		cp := ownTarget
		sub.CommPoint = &cp
		out[cid] = sub
	}
	return out, ownTarget, nil
}

// ownTargetOfLine picks where on its allocated line self should fly: the
// start point if required, else the end point, else the line's midpoint.
func ownTargetOfLine(l msg.Line) vecmath.PosVec {
	if len(l.Points) == 0 {
		return vecmath.PosVec{}
	}
	if l.Start {
		return l.Points[0]
	}
	if l.End {
		return l.Points[len(l.Points)-1]
	}
	left, _ := l.SplitAt(0.5)
	return left.Points[len(left.Points)-1]
}
