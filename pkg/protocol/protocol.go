// Package protocol names the wire-level constants shared between the agent
// and its external transport: the socket naming convention and the four-byte
// channel tags multiplexed over a single connection.
package protocol

import "fmt"

// ProtocolVersion identifies the framing/channel contract implemented here.
const ProtocolVersion = 1

// Channel tags are exactly 4 ASCII bytes, as required by the frame header.
const (
	ChannelGPS  = "GPS_" // inbound only: {"p": PosVec}
	ChannelKNTC = "KNTC" // outbound only: {"v": Velocity}
	ChannelCOMM = "COMM" // both directions: a serialized msg.Msg
)

// SocketName returns the Unix-domain socket path the simulation harness
// listens on for the agent with the given id, relative to the agent's cwd.
func SocketName(id uint32) string {
	return fmt.Sprintf("socket_%06d", id)
}
