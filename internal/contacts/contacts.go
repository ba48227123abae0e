// Package contacts tracks which neighbors are currently within radio range,
// using position reports carried on otherwise-ordinary messages rather than
// a dedicated heartbeat. It decides distance purely from the sender's last
// reported position, so "in contact" is not guaranteed symmetric: A may
// track B before B tracks A.
package contacts

import (
	"time"

	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

const (
	DefaultInRangeThreshold = 0.9
	DefaultLostDuration     = 3 * time.Second
)

// Contact is the last-known state of one in-range neighbor.
type Contact struct {
	Desc      msg.NodeDesc
	LastHeard time.Time
}

func contactFromMsg(now time.Time, m msg.Msg) Contact {
	return Contact{Desc: m.Sender, LastHeard: now}
}

func (c *Contact) updateFromMsg(now time.Time, m msg.Msg) {
	c.Desc = m.Sender
	c.LastHeard = now
}

// PredictPos dead-reckons where this neighbor is now, from its last reported
// position and velocity, the same way the agent predicts its own position
// between GPS fixes.
func (c *Contact) PredictPos(now time.Time) vecmath.PosVec {
	dt := now.Sub(c.LastHeard)
	return c.Desc.P.Add(c.Desc.V.Displacement(dt))
}

// Contacts maintains the set of neighbors currently in radio range.
type Contacts struct {
	pSelf            vecmath.PosVec
	inRange          map[uint32]*Contact
	contactRange     float32
	inRangeThreshold float32
	lostDuration     time.Duration
}

// New builds a tracker for an agent whose usable link range is contactRange
// (already scaled down from the raw message range by the caller).
func New(pSelf vecmath.PosVec, contactRange float32) *Contacts {
	return &Contacts{
		pSelf:            pSelf,
		inRange:          make(map[uint32]*Contact),
		contactRange:     contactRange,
		inRangeThreshold: DefaultInRangeThreshold,
		lostDuration:     DefaultLostDuration,
	}
}

// Update reconciles the contact set against this tick's inbound messages and
// the elapsed time since each contact was last heard from, using now as the
// tick's clock reading (the same now driving node.Manager.Update and
// task.Manager.Step). It returns the current neighbor set, the ids newly
// added, the ids newly removed (disjoint from added), and filtered_msgs:
// every GCS message plus every message sent by a node currently tracked as
// in contact.
func (c *Contacts) Update(now time.Time, pSelf vecmath.PosVec, msgsIn []msg.Msg) (neighbors []*Contact, added []msg.Nid, removed []uint32, filteredMsgs []msg.Msg) {
	c.pSelf = pSelf

	// keep only the freshest message per sender this tick.
	latest := make(map[uint32]msg.Msg, len(msgsIn))
	order := make([]uint32, 0, len(msgsIn))
	for _, m := range msgsIn {
		id := m.Sender.ID()
		if id == msg.GCSID {
			continue
		}
		if _, ok := latest[id]; !ok {
			order = append(order, id)
		}
		latest[id] = m
	}

	added, removed = c.updateByPositions(now, order, latest)
	removed = append(removed, c.filterLostContacts(now)...)
	filteredMsgs = c.filterMessages(msgsIn)
	neighbors = c.Neighbors()
	return neighbors, added, removed, filteredMsgs
}

// Neighbors returns every node currently tracked as in contact.
func (c *Contacts) Neighbors() []*Contact {
	out := make([]*Contact, 0, len(c.inRange))
	for _, ct := range c.inRange {
		out = append(out, ct)
	}
	return out
}

func (c *Contacts) updateByPositions(now time.Time, order []uint32, latest map[uint32]msg.Msg) (added []msg.Nid, removed []uint32) {
	for _, id := range order {
		m := latest[id]
		d := vecmath.Distance(m.Sender.P, c.pSelf)
		existing, ok := c.inRange[id]
		switch {
		case ok && d > c.contactRange:
			delete(c.inRange, id)
			removed = append(removed, id)
		case ok:
			existing.updateFromMsg(now, m)
		case !ok && d <= c.contactRange*c.inRangeThreshold:
			ct := contactFromMsg(now, m)
			c.inRange[id] = &ct
			added = append(added, m.Sender.Nid.Clone())
		}
	}
	return added, removed
}

func (c *Contacts) filterLostContacts(now time.Time) []uint32 {
	var removed []uint32
	for id, ct := range c.inRange {
		if now.Sub(ct.LastHeard) > c.lostDuration {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(c.inRange, id)
	}
	return removed
}

// filterMessages passes GCS traffic through unconditionally and otherwise
// keeps only messages from senders currently tracked in range.
func (c *Contacts) filterMessages(msgsIn []msg.Msg) []msg.Msg {
	out := make([]msg.Msg, 0, len(msgsIn))
	for _, m := range msgsIn {
		if m.Sender.ID() == msg.GCSID {
			out = append(out, m)
			continue
		}
		if _, ok := c.inRange[m.Sender.ID()]; ok {
			out = append(out, m)
		}
	}
	return out
}
