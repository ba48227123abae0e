// Package kinetics is a thin client over the external velocity actuator: it
// remembers the last commanded velocity and publishes new ones on the KNTC
// channel. The actuator's own physics live in the off-agent simulation
// harness.
package kinetics

import (
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/astro/internal/transport"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
	"github.com/nextlevelbuilder/astro/pkg/protocol"
)

// Command is the outbound KNTC channel payload: {"v": Velocity}.
type Command struct {
	V vecmath.Velocity `json:"v"`
}

// Client tracks and publishes the agent's commanded velocity.
type Client struct {
	tc *transport.Transceiver
	v  vecmath.Velocity
}

func NewClient(tc *transport.Transceiver) *Client {
	return &Client{tc: tc}
}

// ReadV returns the velocity currently in effect (before this tick's update).
func (c *Client) ReadV() vecmath.Velocity { return c.v }

// SetV commands a new velocity and publishes it to the actuator.
func (c *Client) SetV(v vecmath.Velocity) error {
	c.v = v
	payload, err := json.Marshal(Command{V: v})
	if err != nil {
		return fmt.Errorf("kinetics: marshal command: %w", err)
	}
	return c.tc.Send(protocol.ChannelKNTC, payload)
}
