// Package node implements the distributed tree-formation state machine:
// each agent is a node in exactly one spanning tree rooted at the lowest-id
// member of its current swarm. Nodes merge trees by Join/Accept, detach by
// Leave/ChangeParent, and detect failure through contact loss or the
// node-level connection timeout.
package node

import (
	"sort"
	"time"

	"github.com/nextlevelbuilder/astro/internal/contacts"
	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/task"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

const (
	NewParentFreshness      = 1 * time.Second
	ChildAddingRateLimit    = 0.5
	ChildAddingTimescale    = 300 * time.Millisecond
	NodeLostDuration        = 5 * time.Second
	DefaultStateMsgDuration = 100 * time.Millisecond
)

// link is what this node remembers about its parent or one child.
type link struct {
	Desc      msg.NodeDesc
	Details   msg.NodeDetails
	LastHeard time.Time
}

// Manager owns one agent's membership in a tree plus its task progression,
// producing the next commanded velocity and outbound messages each tick.
type Manager struct {
	id            uint32
	nid           msg.Nid
	parent        *link
	children      map[uint32]*link
	childOrder    []uint32 // insertion order, used by the subdivision walk
	rate          *childAddingRate
	lastBroadcast time.Time
	contactRange  float32
	maxV          float32

	// subswarm is the bottom-up aggregated size of this node's own subtree
	// (self + recursively every descendant), recomputed each tick from the
	// children's own reported Subswarm. swarmTotal is the root's view of the
	// whole tree's size, propagated downward from the root's subswarm
	// through each parent's Desc.Swarm.
	subswarm   uint32
	swarmTotal uint32

	// knownSiblings records children this node has been told about via
	// AssignChild, announced by a shared parent, independent of this node's
	// own Connection-based discovery of that sibling.
	knownSiblings map[uint32]msg.NodeDetails

	Tasks *task.Manager
}

// New creates a fresh agent starting as the lone root of its own tree.
func New(id uint32, contactRange, maxV float32, now time.Time) *Manager {
	m := &Manager{
		id:            id,
		nid:           msg.Nid{id},
		children:      make(map[uint32]*link),
		rate:          newChildAddingRate(now),
		contactRange:  contactRange,
		maxV:          maxV,
		subswarm:      1,
		swarmTotal:    1,
		knownSiblings: make(map[uint32]msg.NodeDetails),
		Tasks:         task.NewManager(),
	}
	m.Tasks.SetRoot(true)
	return m
}

func (m *Manager) ID() uint32     { return m.id }
func (m *Manager) Nid() msg.Nid   { return m.nid.Clone() }
func (m *Manager) IsRoot() bool   { return m.nid.IsRoot() }
func (m *Manager) RootID() uint32 { return m.nid.RootID() }

// Swarm is the root's view of the total fleet size on this node's current
// tree, propagated downward from the root.
func (m *Manager) Swarm() uint32 { return m.swarmTotal }

// updateSwarmCounts recomputes the bottom-up subswarm aggregate from the
// children's last-reported Subswarm values, then derives this tick's
// swarmTotal: the root's subswarm IS the fleet total; a non-root simply
// adopts whatever total its parent last propagated down.
func (m *Manager) updateSwarmCounts() {
	var sum uint32
	for _, id := range m.childOrder {
		c, ok := m.children[id]
		if !ok {
			continue
		}
		s := c.Details.Subswarm
		if s == 0 {
			s = 1 // child hasn't reported its own aggregate yet
		}
		sum += s
	}
	m.subswarm = 1 + sum

	if m.IsRoot() {
		m.swarmTotal = m.subswarm
		return
	}
	if m.parent != nil && m.parent.Desc.Swarm > 0 {
		m.swarmTotal = m.parent.Desc.Swarm
		return
	}
	m.swarmTotal = m.subswarm
}

// Desc builds this node's current self-description for outbound messages.
func (m *Manager) Desc(p vecmath.PosVec, v vecmath.Velocity) msg.NodeDesc {
	d := msg.NodeDesc{Nid: m.nid.Clone(), P: p, V: v, Swarm: m.Swarm()}
	if tid, ok := m.Tasks.CurrentTaskID(); ok {
		t := tid
		d.TaskID = &t
	}
	return d
}

// Update runs one full tick of the node-manager state machine: contact
// loss, message dispatch, connection timeout, task-state advancement,
// output batching, and velocity selection, in that order.
func (m *Manager) Update(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, removedContacts []uint32, msgsIn []msg.Msg, neighbors []*contacts.Contact) (nextV vecmath.Velocity, outMsgs []msg.Msg) {
	for _, id := range removedContacts {
		m.onContactLost(id)
	}

	var pending []msg.Msg
	for _, in := range msgsIn {
		if !in.AddressedTo(m.id) {
			continue
		}
		pending = append(pending, m.dispatch(now, pSelf, vSelf, in)...)
	}

	m.sweepConnectionTimeouts(now)
	m.updateSwarmCounts()

	m.rate.decay(now, ChildAddingTimescale)
	m.Tasks.SetRoot(m.IsRoot())
	m.Tasks.ManageRootState()

	childSubtasks, _, _ := m.Tasks.Step(now, pSelf, m.contactRange, m.childReports(), m.Tasks.CommPoint())
	for cid, sub := range childSubtasks {
		pending = append(pending, msg.To(m.Desc(pSelf, vSelf), msg.SubtaskBody(sub), cid))
	}

	pending = append(pending, m.runJoinAlgorithm(now, pSelf, vSelf, neighbors)...)

	out := m.batchOutput(now, pSelf, vSelf, pending)

	next := m.computeVelocity(pSelf)
	return next, out
}

// childReports gathers each child's last-reported subswarm size and task
// progression, in a stable order, for the task manager's alignment and
// aggregation checks.
func (m *Manager) childReports() []task.ChildReport {
	out := make([]task.ChildReport, 0, len(m.childOrder))
	for _, id := range m.childOrder {
		c, ok := m.children[id]
		if !ok {
			continue
		}
		out = append(out, task.ChildReport{
			ChildID:  id,
			Subswarm: c.Details.Subswarm,
			State:    c.Details.SubswarmTask,
		})
	}
	return out
}

// --- contact loss & connection timeout -------------------------------------

func (m *Manager) onContactLost(id uint32) {
	if m.parent != nil && m.parent.Desc.ID() == id {
		m.removeParent()
	}
	if _, ok := m.children[id]; ok {
		m.removeChild(id)
	}
}

func (m *Manager) sweepConnectionTimeouts(now time.Time) {
	if m.parent != nil && now.Sub(m.parent.LastHeard) > NodeLostDuration {
		m.removeParent()
	}
	var stale []uint32
	for id, c := range m.children {
		if now.Sub(c.LastHeard) > NodeLostDuration {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.removeChild(id)
	}
}

func (m *Manager) removeParent() {
	if m.parent == nil {
		return
	}
	m.parent = nil
	// losing the parent re-roots this node at itself; Nid collapses to a
	// singleton until a new Join succeeds.
	m.nid = msg.Nid{m.id}
}

func (m *Manager) removeChild(id uint32) {
	c, ok := m.children[id]
	if !ok {
		return
	}
	if c.Details.SubswarmTask.Kind != msg.SubswarmNone {
		m.failCurrentTaskFromChildLoss()
	}
	delete(m.children, id)
	for i, cid := range m.childOrder {
		if cid == id {
			m.childOrder = append(m.childOrder[:i], m.childOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) failCurrentTaskFromChildLoss() {
	m.Tasks.FailCurrent()
}

// --- message dispatch -------------------------------------------------------

func (m *Manager) dispatch(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, in msg.Msg) []msg.Msg {
	switch in.Body.Kind {
	case msg.BodyEmpty:
		m.touchLink(now, in.Sender, nil)
	case msg.BodyConnection:
		return m.onConnection(now, in)
	case msg.BodyJoin:
		return m.onJoin(now, pSelf, vSelf, in)
	case msg.BodyAccept:
		m.onAccept(in)
	case msg.BodyReject:
		m.onReject(in)
	case msg.BodyLeave:
		m.onLeave(in)
	case msg.BodyChangeParent:
		return m.onChangeParent(pSelf, vSelf, in)
	case msg.BodyAssignChild:
		m.onAssignChild(in)
	case msg.BodyTask:
		return m.onTask(pSelf, vSelf, in)
	case msg.BodySubtask:
		m.onSubtask(in)
	}
	return nil
}

func (m *Manager) touchLink(now time.Time, sender msg.NodeDesc, details *msg.NodeDetails) {
	id := sender.ID()
	if m.parent != nil && m.parent.Desc.ID() == id {
		if !sender.Nid.Contains(m.id) {
			m.parent.Desc = sender
			m.parent.LastHeard = now
			if details != nil {
				m.parent.Details = *details
			}
			m.onParentInfoUpdated(sender)
			m.maybeClearTaskFromParent(sender)
		}
		return
	}
	if c, ok := m.children[id]; ok {
		if pid, hasParent := sender.ParentID(); hasParent && pid == m.id {
			c.Desc = sender
			c.LastHeard = now
			if details != nil {
				c.Details = *details
			}
		}
	}
}

// onParentInfoUpdated re-derives this node's Nid whenever its parent's own
// Nid changes shape (a merge or re-home further up the tree).
func (m *Manager) onParentInfoUpdated(parent msg.NodeDesc) {
	m.nid = parent.Nid.Append(m.id)
}

// maybeClearTaskFromParent detects the subtree returning to Free from the
// parent's own propagated NodeDesc: once the parent no longer claims this
// node's current task id (it went Free, or moved to a different task), the
// task state here is stale and must be cleared the same way spec.md's
// lifecycle describes ("cleared when the swarm returns to Free"). Without
// this, a node that reached a terminal Success/Failure state would stay
// InTask forever, since only the root's own ManageRootState ever resets.
func (m *Manager) maybeClearTaskFromParent(parentDesc msg.NodeDesc) {
	tid, ok := m.Tasks.CurrentTaskID()
	if !ok {
		return
	}
	if parentDesc.TaskID == nil || *parentDesc.TaskID != tid {
		m.Tasks.ResetToFree()
	}
}

func (m *Manager) onConnection(now time.Time, in msg.Msg) []msg.Msg {
	m.touchLink(now, in.Sender, in.Body.Connection)
	return nil
}

func (m *Manager) onTask(pSelf vecmath.PosVec, vSelf vecmath.Velocity, in msg.Msg) []msg.Msg {
	t := *in.Body.Task
	m.Tasks.SetRoot(m.IsRoot())
	if relay := m.Tasks.RelayOrAcceptTask(t); relay && m.parent != nil {
		return []msg.Msg{msg.To(m.Desc(pSelf, vSelf), msg.TaskBody(t), m.parent.Desc.ID())}
	}
	return nil
}

func (m *Manager) onSubtask(in msg.Msg) {
	if m.parent == nil || in.Sender.ID() != m.parent.Desc.ID() {
		return
	}
	m.Tasks.ReceiveSubtask(*in.Body.Subtask)
}

// onAssignChild records a sibling announced by the shared parent, so this
// node is aware of it (knownSiblings) without waiting for that sibling's own
// Connection broadcast to arrive directly.
func (m *Manager) onAssignChild(in msg.Msg) {
	if m.parent == nil || in.Sender.ID() != m.parent.Desc.ID() {
		return
	}
	m.knownSiblings[in.Body.AssignChild.ChildID] = in.Body.AssignChild.Details
}

// KnownSiblings reports the children this node has learned about via
// AssignChild broadcasts from its parent.
func (m *Manager) KnownSiblings() map[uint32]msg.NodeDetails { return m.knownSiblings }

func (m *Manager) onChangeParent(pSelf vecmath.PosVec, vSelf vecmath.Velocity, in msg.Msg) []msg.Msg {
	if m.parent == nil || in.Sender.ID() != m.parent.Desc.ID() {
		return nil
	}
	newParentID := in.Body.ChangeParent.NewParentID
	old := m.parent.Desc
	m.parent = nil
	m.nid = msg.Nid{m.id}
	return []msg.Msg{msg.To(m.Desc(pSelf, vSelf), msg.JoinBody(old.RootID(), m.ownDetails()), newParentID)}
}

func (m *Manager) onAccept(in msg.Msg) {
	if m.parent != nil && m.parent.Desc.ID() == in.Sender.ID() {
		m.parent.LastHeard = time.Now()
	}
}

func (m *Manager) onReject(in msg.Msg) {
	if m.parent != nil && m.parent.Desc.ID() == in.Sender.ID() {
		m.removeParent()
	}
}

func (m *Manager) onLeave(in msg.Msg) {
	if _, ok := m.children[in.Sender.ID()]; ok {
		m.removeChild(in.Sender.ID())
	}
}

func (m *Manager) ownDetails() msg.NodeDetails {
	return msg.NodeDetails{Subswarm: m.subswarm, SubswarmTask: m.Tasks.OwnState()}
}

// --- join (merging) --------------------------------------------------------

type joinCandidate struct {
	id       uint32
	desc     msg.NodeDesc
	swarm    uint32
	rootID   uint32
	dist     float32
	isSelf   bool
}

// onJoin implements the parent side: accept or reject an applicant. On
// acceptance it also announces the new child to every pre-existing sibling
// via AssignChild, per the spec.md §4.2 message vocabulary.
func (m *Manager) onJoin(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, in msg.Msg) []msg.Msg {
	applicant := in.Sender
	srcTree := in.Body.Join.SrcTree
	details := in.Body.Join.Details
	existingSiblings := append([]uint32(nil), m.childOrder...)

	if !m.addChildOrReject(now, applicant, srcTree, details) {
		return []msg.Msg{msg.To(m.Desc(pSelf, vSelf), msg.RejectBody(), applicant.ID())}
	}

	out := []msg.Msg{msg.To(m.Desc(pSelf, vSelf), msg.AcceptBody(), applicant.ID())}
	if len(existingSiblings) > 0 {
		out = append(out, msg.To(m.Desc(pSelf, vSelf), msg.AssignChildBody(applicant.ID(), details), existingSiblings...))
	}
	return out
}

// addChildOrReject implements the four rejection rules from the adoption
// algorithm: cycle, same-tree, not-Free, and rate limit.
func (m *Manager) addChildOrReject(now time.Time, applicant msg.NodeDesc, srcTree uint32, details msg.NodeDetails) bool {
	if m.nid.Contains(applicant.ID()) {
		return false
	}
	if srcTree == m.RootID() {
		return false
	}
	if !m.Tasks.IsFree() {
		return false
	}
	if m.rate.exceeds(ChildAddingRateLimit) {
		return false
	}
	m.children[applicant.ID()] = &link{Desc: applicant, Details: details, LastHeard: now}
	m.childOrder = append(m.childOrder, applicant.ID())
	m.rate.bump()
	return true
}

// runJoinAlgorithm implements the applicant side: when Free, periodically
// evaluate whether a better tree is in contact and merge toward it.
func (m *Manager) runJoinAlgorithm(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, neighbors []*contacts.Contact) []msg.Msg {
	if !m.Tasks.IsFree() {
		return nil
	}

	candidates := []joinCandidate{{
		id: m.id, desc: m.Desc(pSelf, vSelf), swarm: m.Swarm(), rootID: m.RootID(), dist: 0, isSelf: true,
	}}
	for _, c := range neighbors {
		if now.Sub(c.LastHeard) > NewParentFreshness {
			continue
		}
		if c.Desc.HasTask() {
			continue
		}
		if c.Desc.RootID() == m.RootID() {
			continue
		}
		candidates = append(candidates, joinCandidate{
			id:     c.Desc.ID(),
			desc:   c.Desc,
			swarm:  c.Desc.Swarm,
			rootID: c.Desc.RootID(),
			dist:   vecmath.Distance(c.Desc.P, pSelf),
		})
	}
	if len(candidates) == 1 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.swarm != b.swarm {
			return a.swarm > b.swarm
		}
		if a.rootID != b.rootID {
			return a.rootID < b.rootID
		}
		return a.dist < b.dist
	})

	winner := candidates[0]
	if winner.isSelf {
		return nil
	}
	return m.setParent(pSelf, vSelf, winner.desc)
}

// setParent adopts candidate as this node's new parent, refusing any
// candidate whose Nid already contains self (cycle prevention).
func (m *Manager) setParent(pSelf vecmath.PosVec, vSelf vecmath.Velocity, candidate msg.NodeDesc) []msg.Msg {
	if candidate.Nid.Contains(m.id) {
		return nil
	}
	oldRoot := m.RootID()
	var out []msg.Msg
	if m.parent != nil {
		out = append(out, msg.To(m.Desc(pSelf, vSelf), msg.LeaveBody(), m.parent.Desc.ID()))
	}
	m.parent = &link{Desc: candidate, LastHeard: time.Now()}
	m.nid = candidate.Nid.Append(m.id)
	out = append(out, msg.To(m.Desc(pSelf, vSelf), msg.JoinBody(oldRoot, m.ownDetails()), candidate.ID()))
	return out
}

// --- output batching & velocity ---------------------------------------------

func (m *Manager) batchOutput(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, pending []msg.Msg) []msg.Msg {
	out := pending
	broadcastDue := now.Sub(m.lastBroadcast) >= DefaultStateMsgDuration
	if len(out) > 0 || broadcastDue {
		out = append(out, msg.Broadcast(m.Desc(pSelf, vSelf), msg.ConnectionBody(m.ownDetails())))
		m.lastBroadcast = now
	}
	return out
}

// computeVelocity applies the follow-parent pursuit law when the node has
// no task target, otherwise flies toward its allocated task target.
func (m *Manager) computeVelocity(pSelf vecmath.PosVec) vecmath.Velocity {
	if target, ok := m.Tasks.OwnTarget(); ok {
		return m.pursuit(pSelf, target, m.maxV, task.DefaultPosMaintainPrecision)
	}
	if m.parent == nil {
		return vecmath.Zero()
	}
	return m.pursuit(pSelf, m.parent.Desc.P, m.maxV/2, m.contactRange/2)
}

// pursuit is a proportional pursuit law capped at speedCap, zeroed once
// within deadzone of target.
func (m *Manager) pursuit(pSelf, target vecmath.PosVec, speedCap, deadzone float32) vecmath.Velocity {
	s := target.Sub(pSelf)
	dist := s.Norm()
	if dist < deadzone {
		return vecmath.Zero()
	}
	return s.Scale(speedCap / dist).AsVelocity()
}
