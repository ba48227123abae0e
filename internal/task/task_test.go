package task

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

func straightLine(start bool, end bool, length float32) msg.Line {
	return msg.Line{
		Points: []vecmath.PosVec{{X: 0}, {X: length}},
		Start:  start,
		End:    end,
	}
}

func TestAddTaskIfNew_DedupesQueuedAndOldTasks(t *testing.T) {
	m := NewManager()
	m.SetRoot(true)
	m.AddTaskIfNew(msg.Task{ID: 1})
	m.AddTaskIfNew(msg.Task{ID: 1})
	if len(m.queued) != 1 {
		t.Fatalf("queued = %d, want 1 (dedup)", len(m.queued))
	}

	m.old[1] = true
	m.AddTaskIfNew(msg.Task{ID: 1})
	if len(m.queued) != 1 {
		t.Fatalf("queued = %d, want 1 (old task rejected)", len(m.queued))
	}
}

func TestRelayOrAcceptTask_NonRootAlwaysRelays(t *testing.T) {
	m := NewManager()
	if relay := m.RelayOrAcceptTask(msg.Task{ID: 5}); !relay {
		t.Fatal("non-root must relay upward")
	}
	if len(m.queued) != 0 {
		t.Fatalf("non-root should not queue, got %d", len(m.queued))
	}
}

func TestManageRootState_PopsOnlyWhenFreeOrTerminal(t *testing.T) {
	m := NewManager()
	m.SetRoot(true)
	m.AddTaskIfNew(msg.Task{ID: 1})
	m.AddTaskIfNew(msg.Task{ID: 2})

	m.ManageRootState()
	tid, ok := m.CurrentTaskID()
	if !ok || tid != 1 {
		t.Fatalf("current = %v,%v want task 1", tid, ok)
	}

	// popping again while InProgress must not advance.
	m.ManageRootState()
	tid, _ = m.CurrentTaskID()
	if tid != 1 {
		t.Fatalf("current = %v, should stay on task 1 while in progress", tid)
	}

	m.current.state = msg.SubswarmSuccess
	m.ManageRootState()
	tid, ok = m.CurrentTaskID()
	if !ok || tid != 2 {
		t.Fatalf("current = %v,%v want task 2 after terminal pop", tid, ok)
	}
}

func TestStep_LeafRootProgressesToAllocatedAndSucceeds(t *testing.T) {
	m := NewManager()
	m.SetRoot(true)
	line := straightLine(false, false, 10)
	m.AddTaskIfNew(msg.Task{ID: 1, Lines: []msg.Line{line}, Duration: 100 * time.Millisecond})
	m.ManageRootState()

	now := time.Now()
	// Received -> Aligned (no children, vacuously aligned).
	_, failed, err := m.Step(now, vecmath.PosVec{}, 100, nil, nil)
	if err != nil || failed {
		t.Fatalf("unexpected failure: %v %v", failed, err)
	}
	if m.current.state != msg.SubswarmAligned {
		t.Fatalf("state = %v, want Aligned", m.current.state)
	}

	// Aligned -> Allocated (subdivide: sole participant is self).
	_, failed, err = m.Step(now, vecmath.PosVec{}, 100, nil, nil)
	if err != nil || failed {
		t.Fatalf("unexpected failure: %v %v", failed, err)
	}
	if m.current.state != msg.SubswarmAllocated {
		t.Fatalf("state = %v, want Allocated", m.current.state)
	}
	target, ok := m.OwnTarget()
	if !ok {
		t.Fatal("expected an own target once allocated")
	}
	if target.X != 5 {
		t.Errorf("OwnTarget = %+v, want midpoint at x=5 (no required endpoints)", target)
	}

	// fly to the target and hold for the task's duration.
	m.Step(now, target, 100, nil, nil)
	m.Step(now.Add(200*time.Millisecond), target, 100, nil, nil)
	if m.current.state != msg.SubswarmSuccess {
		t.Fatalf("state = %v, want Success after holding position past duration", m.current.state)
	}
}

func TestStep_ChildFailurePropagates(t *testing.T) {
	m := NewManager()
	m.SetRoot(true)
	m.AddTaskIfNew(msg.Task{ID: 1, Lines: []msg.Line{straightLine(false, false, 10)}, Duration: time.Second})
	m.ManageRootState()

	children := []ChildReport{{ChildID: 7, Subswarm: 1, State: msg.TaskStateOf(msg.SubswarmFailure, 1)}}
	_, failed, _ := m.Step(time.Now(), vecmath.PosVec{}, 100, children, nil)
	if !failed {
		t.Fatal("expected failure to propagate from a failed child")
	}
	if m.current.state != msg.SubswarmFailure {
		t.Fatalf("state = %v, want Failure", m.current.state)
	}
}

func TestSubdivide_SplitsLineBetweenSelfAndChild(t *testing.T) {
	m := NewManager()
	m.SetRoot(true)
	line := straightLine(false, false, 10)
	m.AddTaskIfNew(msg.Task{ID: 1, Lines: []msg.Line{line}, Duration: time.Second})
	m.ManageRootState()

	now := time.Now()
	childAligned := []ChildReport{{ChildID: 9, Subswarm: 1, State: msg.TaskStateOf(msg.SubswarmAligned, 1)}}
	// Received -> Aligned, since the child already reports past Received.
	m.Step(now, vecmath.PosVec{}, 1000, childAligned, nil)

	// Aligned -> Allocated: subdivision runs and emits the child's subtask.
	childSubtasks, _, err := m.Step(now, vecmath.PosVec{}, 1000, childAligned, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, ok := childSubtasks[9]
	if !ok {
		t.Fatal("expected a subtask emitted for child 9")
	}
	if len(sub.Lines) == 0 {
		t.Fatal("expected child subtask to carry at least one line")
	}
	if sub.CommPoint == nil {
		t.Fatal("expected child subtask to carry self's target as comm_point")
	}
}

func TestResetToFree_ClearsCurrentAndMarksItOld(t *testing.T) {
	m := NewManager()
	m.ReceiveSubtask(msg.Task{ID: 3})
	if m.IsFree() {
		t.Fatal("test setup: expected a task in progress")
	}

	m.ResetToFree()

	if !m.IsFree() {
		t.Fatal("expected ResetToFree to clear the current task")
	}
	if !m.old[3] {
		t.Fatal("expected the cleared task id to be remembered so it can't be re-added")
	}
	m.AddTaskIfNew(msg.Task{ID: 3})
	if len(m.queued) != 0 {
		t.Fatal("AddTaskIfNew should not re-queue a task already cleared by ResetToFree")
	}
}

func TestResetToFree_NoopWhenAlreadyFree(t *testing.T) {
	m := NewManager()
	m.ResetToFree()
	if !m.IsFree() {
		t.Fatal("expected ResetToFree to be a no-op when already free")
	}
}
