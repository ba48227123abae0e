// Package transport implements the length-prefixed, channel-multiplexed
// frame protocol the simulation harness and each agent process speak over a
// Unix-domain socket, plus the thin GPS_/KNTC/COMM channel helpers built on
// top of it.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/pkg/protocol"
)

const (
	writeTimeout = 20 * time.Millisecond
	writeRetries = 5
)

// Transceiver owns the single socket connection an agent process uses for
// all three channels. It is not safe for concurrent use — the tick
// orchestrator is the only caller, matching the cooperative, single
// goroutine scheduling model.
type Transceiver struct {
	conn net.Conn
	r    *bufio.Reader
	buf  map[string][][]byte
}

// Dial connects to the harness-owned listening socket at path.
func Dial(path string) (*Transceiver, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	return &Transceiver{
		conn: conn,
		r:    bufio.NewReader(conn),
		buf:  make(map[string][][]byte),
	}, nil
}

func (t *Transceiver) Close() error { return t.conn.Close() }

// Poll drains every frame currently available on the socket into per-channel
// buffers without blocking. It returns io.EOF if the peer closed the
// connection, and any other error is a genuine transport failure.
func (t *Transceiver) Poll() error {
	for {
		if err := t.conn.SetReadDeadline(time.Now()); err != nil {
			return fmt.Errorf("transport: set read deadline: %w", err)
		}
		f, err := ReadFrame(t.r)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("transport: read frame: %w", err)
		}
		t.buf[f.Channel] = append(t.buf[f.Channel], f.Payload)
	}
}

// Retrieve drains and returns every buffered payload for channel, in arrival
// order, clearing the buffer the way the original transceiver's msg_map swap
// did.
func (t *Transceiver) Retrieve(channel string) [][]byte {
	msgs := t.buf[channel]
	delete(t.buf, channel)
	return msgs
}

// Send writes one frame, retrying a bounded number of times with a fixed
// interval when the socket briefly can't accept more data (WouldBlock).
func (t *Transceiver) Send(channel string, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return fmt.Errorf("transport: set write deadline: %w", err)
		}
		err := WriteFrame(t.conn, Frame{Channel: channel, Payload: payload})
		if err == nil {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			lastErr = err
			time.Sleep(writeTimeout)
			continue
		}
		return fmt.Errorf("transport: send on %q: %w", channel, err)
	}
	return fmt.Errorf("transport: send on %q exhausted %d retries: %w", channel, writeRetries, lastErr)
}

// ReceiveMsgs decodes every buffered COMM payload into a msg.Msg. A payload
// that fails to decode is dropped rather than aborting the whole batch —
// malformed traffic from one peer should not starve every other neighbor's
// messages this tick.
func (t *Transceiver) ReceiveMsgs() []msg.Msg {
	raw := t.Retrieve(protocol.ChannelCOMM)
	out := make([]msg.Msg, 0, len(raw))
	for _, payload := range raw {
		var m msg.Msg
		if err := json.Unmarshal(payload, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SendMsgs encodes and sends each message on the COMM channel.
func (t *Transceiver) SendMsgs(msgs []msg.Msg) error {
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("transport: marshal msg: %w", err)
		}
		if err := t.Send(protocol.ChannelCOMM, payload); err != nil {
			return err
		}
	}
	return nil
}
