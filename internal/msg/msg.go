// Package msg defines the wire vocabulary every agent speaks: the tree
// identity (Nid), the two broadcast/targeted self-description payloads
// (NodeDesc, NodeDetails), the task/line geometry, and the Msg envelope with
// its ten body variants. Everything here round-trips through encoding/json
// exactly as described by the transport's "COMM" channel schema.
package msg

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

// GCSID is the reserved pseudo-node id of the ground control station.
const GCSID uint32 = 0

// Nid is the ordered, non-empty, cycle-free path root -> ... -> self on the
// current spanning tree.
type Nid []uint32

// ID is the last element: this node's own id.
func (n Nid) ID() uint32 { return n[len(n)-1] }

// RootID is the first element: the tree's root id.
func (n Nid) RootID() uint32 { return n[0] }

// IsRoot reports whether this Nid names the root of its tree.
func (n Nid) IsRoot() bool { return len(n) == 1 }

// ParentID returns the second-to-last element, if any.
func (n Nid) ParentID() (uint32, bool) {
	if len(n) < 2 {
		return 0, false
	}
	return n[len(n)-2], true
}

// Contains reports whether id already appears in the path — used to reject
// cyclic parent/child assignments.
func (n Nid) Contains(id uint32) bool {
	for _, v := range n {
		if v == id {
			return true
		}
	}
	return false
}

// Append returns a new Nid with id appended, used when adopting self under a
// candidate parent: child.nid = parent.nid ++ [self].
func (n Nid) Append(id uint32) Nid {
	out := make(Nid, len(n)+1)
	copy(out, n)
	out[len(n)] = id
	return out
}

// Clone makes an independent copy, since Nid is shared by reference through
// NodeDesc values kept in contact/link records.
func (n Nid) Clone() Nid {
	out := make(Nid, len(n))
	copy(out, n)
	return out
}

// NodeDesc is the self-describing header every broadcast carries.
type NodeDesc struct {
	Nid    Nid              `json:"nid"`
	P      vecmath.PosVec   `json:"p"`
	V      vecmath.Velocity `json:"v"`
	Swarm  uint32           `json:"swm"`
	TaskID *uint32          `json:"tsk,omitempty"`
}

func (d NodeDesc) ID() uint32           { return d.Nid.ID() }
func (d NodeDesc) RootID() uint32       { return d.Nid.RootID() }
func (d NodeDesc) IsRoot() bool         { return d.Nid.IsRoot() }
func (d NodeDesc) ParentID() (uint32, bool) { return d.Nid.ParentID() }
func (d NodeDesc) HasTask() bool        { return d.TaskID != nil }
func (d NodeDesc) IsGCS() bool          { return len(d.Nid) == 1 && d.Nid[0] == GCSID }

// GCSDesc is the predetermined descriptor used to recognize and tag
// ground-control-station messages.
func GCSDesc() NodeDesc {
	return NodeDesc{Nid: Nid{GCSID}}
}

// SubswarmTaskState is the tagged variant attached to NodeDetails tracking
// how far this node's subtree has progressed on the currently allocated
// task. See spec §4.3 for the progression.
type SubswarmTaskState struct {
	Kind string  `json:"kind"`           // "None", "Received", "Aligned", "Allocated", "Success", "Failure"
	Task *uint32 `json:"task,omitempty"` // nil iff Kind == "None"
}

const (
	SubswarmNone      = "None"
	SubswarmReceived  = "Received"
	SubswarmAligned   = "Aligned"
	SubswarmAllocated = "Allocated"
	SubswarmSuccess   = "Success"
	SubswarmFailure   = "Failure"
)

func NoneTaskState() SubswarmTaskState { return SubswarmTaskState{Kind: SubswarmNone} }

func TaskStateOf(kind string, tid uint32) SubswarmTaskState {
	t := tid
	return SubswarmTaskState{Kind: kind, Task: &t}
}

// IsForTask reports whether this state refers to the given task id.
func (s SubswarmTaskState) IsForTask(tid uint32) bool {
	return s.Task != nil && *s.Task == tid
}

// NodeDetails is the richer payload sent to parent/children only.
type NodeDetails struct {
	Subswarm     uint32            `json:"subswarm"`
	SubswarmTask SubswarmTaskState `json:"subswm_tsk"`
}

// Line is one polyline segment of a Task, with endpoint occupancy flags.
type Line struct {
	Points []vecmath.PosVec `json:"points"`
	Start  bool              `json:"start"`
	End    bool              `json:"end"`
}

// Length is the total arc length of the polyline.
func (l Line) Length() float32 {
	var total float32
	for i := 1; i < len(l.Points); i++ {
		total += vecmath.Distance(l.Points[i-1], l.Points[i])
	}
	return total
}

// NumLeastUAVs is the integer lower bound of UAVs needed to fly this line:
// one UAV for the polyline itself, plus half a UAV per required endpoint.
func (l Line) NumLeastUAVs() int {
	least := 1.0
	if l.Start {
		least += 0.5
	}
	if l.End {
		least += 0.5
	}
	n := int(least)
	if float64(n) < least {
		n++
	}
	return n
}

// EndpointWeight is how much of a UAV the declared endpoints absorb (0, 0.5,
// or 1), used to compute effective_uavs = allocated - end_points/2.
func (l Line) EndpointWeight() float32 {
	var w float32
	if l.Start {
		w += 0.5
	}
	if l.End {
		w += 0.5
	}
	return w
}

// SplitAt divides the polyline at arc-length ratio r in [0,1], returning two
// sub-lines that share the interpolated breakpoint. The breakpoint itself
// never requires a UAV, so the new inner endpoints have start=end=false.
func (l Line) SplitAt(r float32) (left, right Line) {
	total := l.Length()
	target := total * r
	if len(l.Points) == 0 {
		return l, l
	}
	acc := float32(0)
	pts := l.Points
	for i := 1; i < len(pts); i++ {
		segLen := vecmath.Distance(pts[i-1], pts[i])
		if acc+segLen >= target || i == len(pts)-1 {
			var breakpoint vecmath.PosVec
			if segLen == 0 {
				breakpoint = pts[i-1]
			} else {
				t := (target - acc) / segLen
				if t < 0 {
					t = 0
				}
				if t > 1 {
					t = 1
				}
				breakpoint = pts[i-1].Add(pts[i].Sub(pts[i-1]).Scale(t))
			}
			leftPts := append(append([]vecmath.PosVec{}, pts[:i]...), breakpoint)
			rightPts := append([]vecmath.PosVec{breakpoint}, pts[i:]...)
			left = Line{Points: leftPts, Start: l.Start, End: false}
			right = Line{Points: rightPts, Start: false, End: l.End}
			return left, right
		}
		acc += segLen
	}
	return l, l
}

// Task is a GCS-issued formation flight over one or more polylines.
type Task struct {
	ID        uint32        `json:"id"`
	Lines     []Line        `json:"lines"`
	Duration  time.Duration `json:"duration"`
	CommPoint *vecmath.PosVec `json:"comm_point,omitempty"`
}

// Clone deep-copies a Task so per-child subtasks don't alias the parent's
// line slices.
func (t Task) Clone() Task {
	lines := make([]Line, len(t.Lines))
	for i, l := range t.Lines {
		pts := make([]vecmath.PosVec, len(l.Points))
		copy(pts, l.Points)
		lines[i] = Line{Points: pts, Start: l.Start, End: l.End}
	}
	out := Task{ID: t.ID, Lines: lines, Duration: t.Duration}
	if t.CommPoint != nil {
		p := *t.CommPoint
		out.CommPoint = &p
	}
	return out
}

// Body variant kind tags, used both as the JSON discriminator and as
// MsgBody.Kind values.
const (
	BodyEmpty        = "Empty"
	BodyConnection   = "Connection"
	BodyJoin         = "Join"
	BodyAccept       = "Accept"
	BodyReject       = "Reject"
	BodyLeave        = "Leave"
	BodyChangeParent = "ChangeParent"
	BodyAssignChild  = "AssignChild"
	BodyTask         = "Task"
	BodySubtask      = "Subtask"
)

// JoinPayload carries the applicant's prior root id (for the new parent to
// tell this is a genuine cross-tree merge) plus its NodeDetails.
type JoinPayload struct {
	SrcTree uint32      `json:"src_tree"`
	Details NodeDetails `json:"details"`
}

// ChangeParentPayload names the sibling the receiving child must re-home to.
type ChangeParentPayload struct {
	NewParentID uint32 `json:"new_parent_id"`
}

// AssignChildPayload announces a newly adopted sibling to the rest of the
// children so their own bookkeeping (if any) can stay informed.
type AssignChildPayload struct {
	ChildID uint32      `json:"cid"`
	Details NodeDetails `json:"details"`
}

// MsgBody is the ten-variant message vocabulary body. Exactly one of the
// typed fields is populated, selected by Kind.
type MsgBody struct {
	Kind         string
	Connection   *NodeDetails
	Join         *JoinPayload
	ChangeParent *ChangeParentPayload
	AssignChild  *AssignChildPayload
	Task         *Task
	Subtask      *Task
}

func EmptyBody() MsgBody  { return MsgBody{Kind: BodyEmpty} }
func AcceptBody() MsgBody { return MsgBody{Kind: BodyAccept} }
func RejectBody() MsgBody { return MsgBody{Kind: BodyReject} }
func LeaveBody() MsgBody  { return MsgBody{Kind: BodyLeave} }

func ConnectionBody(d NodeDetails) MsgBody { return MsgBody{Kind: BodyConnection, Connection: &d} }

func JoinBody(srcTree uint32, d NodeDetails) MsgBody {
	return MsgBody{Kind: BodyJoin, Join: &JoinPayload{SrcTree: srcTree, Details: d}}
}

func ChangeParentBody(newParentID uint32) MsgBody {
	return MsgBody{Kind: BodyChangeParent, ChangeParent: &ChangeParentPayload{NewParentID: newParentID}}
}

func AssignChildBody(childID uint32, d NodeDetails) MsgBody {
	return MsgBody{Kind: BodyAssignChild, AssignChild: &AssignChildPayload{ChildID: childID, Details: d}}
}

func TaskBody(t Task) MsgBody    { return MsgBody{Kind: BodyTask, Task: &t} }
func SubtaskBody(t Task) MsgBody { return MsgBody{Kind: BodySubtask, Subtask: &t} }

// MarshalJSON renders unit variants as a bare string and data-carrying
// variants as {"<Variant>": <data>}, matching the externally-tagged schema
// the transport documents for "body".
func (b MsgBody) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodyEmpty, BodyAccept, BodyReject, BodyLeave:
		return json.Marshal(b.Kind)
	case BodyConnection:
		return marshalVariant(b.Kind, b.Connection)
	case BodyJoin:
		return marshalVariant(b.Kind, b.Join)
	case BodyChangeParent:
		return marshalVariant(b.Kind, b.ChangeParent)
	case BodyAssignChild:
		return marshalVariant(b.Kind, b.AssignChild)
	case BodyTask:
		return marshalVariant(b.Kind, b.Task)
	case BodySubtask:
		return marshalVariant(b.Kind, b.Subtask)
	default:
		return nil, fmt.Errorf("msg: unknown body kind %q", b.Kind)
	}
}

func marshalVariant(kind string, payload interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{kind: payload})
}

// UnmarshalJSON accepts either a bare variant-name string or a single-key
// object, dispatching into the matching typed field.
func (b *MsgBody) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		switch asString {
		case BodyEmpty, BodyAccept, BodyReject, BodyLeave:
			*b = MsgBody{Kind: asString}
			return nil
		default:
			return fmt.Errorf("msg: unknown unit body variant %q", asString)
		}
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("msg: body is neither a variant string nor an object: %w", err)
	}
	if len(asObject) != 1 {
		return fmt.Errorf("msg: body object must carry exactly one variant, got %d", len(asObject))
	}
	for kind, raw := range asObject {
		switch kind {
		case BodyConnection:
			var v NodeDetails
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, Connection: &v}
		case BodyJoin:
			var v JoinPayload
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, Join: &v}
		case BodyChangeParent:
			var v ChangeParentPayload
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, ChangeParent: &v}
		case BodyAssignChild:
			var v AssignChildPayload
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, AssignChild: &v}
		case BodyTask:
			var v Task
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, Task: &v}
		case BodySubtask:
			var v Task
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*b = MsgBody{Kind: kind, Subtask: &v}
		default:
			return fmt.Errorf("msg: unknown body variant %q", kind)
		}
	}
	return nil
}

// Msg is the envelope carried on the COMM channel. ToIDs empty means
// broadcast; a receiver consumes a message iff ToIDs is empty or contains
// its own id.
type Msg struct {
	Sender NodeDesc `json:"sender"`
	ToIDs  []uint32 `json:"to_ids"`
	Body   MsgBody  `json:"body"`
}

// AddressedTo reports whether selfID should consume this message.
func (m Msg) AddressedTo(selfID uint32) bool {
	if len(m.ToIDs) == 0 {
		return true
	}
	for _, id := range m.ToIDs {
		if id == selfID {
			return true
		}
	}
	return false
}

// Broadcast builds a Msg with no explicit recipients.
func Broadcast(sender NodeDesc, body MsgBody) Msg {
	return Msg{Sender: sender, ToIDs: nil, Body: body}
}

// To builds a Msg addressed to the given recipients only.
func To(sender NodeDesc, body MsgBody, ids ...uint32) Msg {
	return Msg{Sender: sender, ToIDs: ids, Body: body}
}
