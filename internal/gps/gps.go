// Package gps is a thin client over the external position oracle. It owns no
// physics or simulation model — that lives in the off-agent harness — only
// the "GPS_" channel decode and the dead-reckoning prediction spec §3
// assigns to the Contact/tick pipeline.
package gps

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/astro/internal/transport"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
	"github.com/nextlevelbuilder/astro/pkg/protocol"
)

// Reading is the inbound GPS_ channel payload: {"p": PosVec}.
type Reading struct {
	P vecmath.PosVec `json:"p"`
}

// Client refreshes the agent's own position estimate once per tick.
type Client struct {
	tc       *transport.Transceiver
	lastPos  vecmath.PosVec
	lastTime time.Time
	has      bool
}

func NewClient(tc *transport.Transceiver) *Client {
	return &Client{tc: tc}
}

// Update drains any buffered GPS_ frames, keeping the most recent reading.
// It reports whether at least one reading has ever been seen (callers should
// block startup on this before entering the control loop).
func (c *Client) Update(now time.Time) bool {
	for _, payload := range c.tc.Retrieve(protocol.ChannelGPS) {
		var r Reading
		if err := json.Unmarshal(payload, &r); err != nil {
			continue
		}
		c.lastPos = r.P
		c.lastTime = now
		c.has = true
	}
	return c.has
}

// PredictPos dead-reckons the current position from the last GPS fix and the
// velocity currently commanded, per spec §2 step 2.
func (c *Client) PredictPos(now time.Time, v vecmath.Velocity) vecmath.PosVec {
	if !c.has {
		return vecmath.PosVec{}
	}
	dt := now.Sub(c.lastTime)
	return c.lastPos.Add(v.Displacement(dt))
}
