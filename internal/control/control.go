// Package control is the per-agent tick orchestrator: it wires the GPS and
// kinetics collaborators, the COMM transceiver, and the Contacts, NodeManager
// and CollisionAvoidance filter into the single-threaded cooperative loop
// spec §2 describes, running one phase-ordered step roughly every 100ms.
package control

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/astro/internal/astroconf"
	"github.com/nextlevelbuilder/astro/internal/collision"
	"github.com/nextlevelbuilder/astro/internal/contacts"
	"github.com/nextlevelbuilder/astro/internal/gps"
	"github.com/nextlevelbuilder/astro/internal/kinetics"
	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/node"
	"github.com/nextlevelbuilder/astro/internal/transport"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
	"github.com/nextlevelbuilder/astro/pkg/protocol"
)

// EventLoopInterval and EventLoopIntervalMin govern the tick scheduler: a
// tick that finishes under the floor sleeps for the remainder of the target
// interval; a tick that overruns the floor runs the next one immediately.
const (
	EventLoopInterval    = 100 * time.Millisecond
	EventLoopIntervalMin = 70 * time.Millisecond
)

// Control wires one agent's contact tracking, tree membership, task
// progression and collision filter together.
type Control struct {
	contacts  *contacts.Contacts
	nodes     *node.Manager
	avoid     *collision.Filter
	cfg       astroconf.Config
}

// New builds the per-tick control stack for a freshly started agent, alone
// at the root of its own tree.
func New(cfg astroconf.Config, pSelf vecmath.PosVec, now time.Time) *Control {
	return &Control{
		contacts: contacts.New(pSelf, cfg.ContactRange()),
		nodes:    node.New(cfg.ID, cfg.ContactRange(), cfg.MaxV, now),
		avoid:    collision.New(cfg.UAVRadius),
		cfg:      cfg,
	}
}

// Update runs one tick's worth of contact tracking, tree-state advancement
// and collision filtering, returning the velocity to command this tick and
// the messages to broadcast/send.
func (c *Control) Update(now time.Time, pSelf vecmath.PosVec, vSelf vecmath.Velocity, msgsIn []msg.Msg) (vecmath.Velocity, []msg.Msg) {
	trace := uuid.NewString()[:8]
	neighbors, added, removed, filtered := c.contacts.Update(now, pSelf, msgsIn)
	for _, nid := range added {
		slog.Debug("contact acquired", "trace", trace, "id", nid.ID(), "self", c.cfg.ID)
	}
	for _, id := range removed {
		slog.Debug("contact lost", "trace", trace, "id", id, "self", c.cfg.ID)
	}

	vAim, msgsOut := c.nodes.Update(now, pSelf, vSelf, removed, filtered, neighbors)
	vSafe := c.avoid.GetSafeV(vAim, pSelf, neighbors, now)
	return vSafe, msgsOut
}

// Agent binds a Control stack to its external GPS/kinetics/comm
// collaborators and drives the cooperative tick loop.
type Agent struct {
	cfg   astroconf.Config
	gps   *gps.Client
	kntc  *kinetics.Client
	tc    *transport.Transceiver
	ctrl  *Control
}

// Connect dials the agent's Unix-domain socket and waits for the first GPS
// fix before returning, matching the harness's startup handshake.
func Connect(cfg astroconf.Config) (*Agent, error) {
	socketPath := protocol.SocketName(cfg.ID)
	tc, err := transport.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: connect agent %d: %w", cfg.ID, err)
	}

	a := &Agent{
		cfg:  cfg,
		gps:  gps.NewClient(tc),
		kntc: kinetics.NewClient(tc),
		tc:   tc,
	}

	for !a.gps.Update(time.Now()) {
		if err := a.tc.Poll(); err != nil {
			tc.Close()
			return nil, fmt.Errorf("control: waiting for first GPS fix: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	a.ctrl = New(cfg, a.gps.PredictPos(time.Now(), vecmath.Velocity{}), time.Now())
	return a, nil
}

func (a *Agent) Close() error { return a.tc.Close() }

// Run drives the cooperative tick loop until step returns a non-nil error
// or the stop channel closes.
func (a *Agent) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		start := time.Now()
		if err := a.Step(start); err != nil {
			return err
		}
		elapsed := time.Since(start)
		if elapsed < EventLoopIntervalMin {
			time.Sleep(EventLoopInterval - elapsed)
		}
	}
}

// Step runs exactly one tick: gps.update, kinetics.read_v, gps.predict_pos,
// comm.receive_msgs, control.update, kinetics.set_v, comm.send_msgs.
func (a *Agent) Step(now time.Time) error {
	if err := a.tc.Poll(); err != nil {
		return fmt.Errorf("control: poll transport: %w", err)
	}
	a.gps.Update(now)
	vSelf := a.kntc.ReadV()
	pSelf := a.gps.PredictPos(now, vSelf)
	msgsIn := a.tc.ReceiveMsgs()

	nextV, msgsOut := a.ctrl.Update(now, pSelf, vSelf, msgsIn)

	if err := a.kntc.SetV(nextV); err != nil {
		return fmt.Errorf("control: set velocity: %w", err)
	}
	if err := a.tc.SendMsgs(msgsOut); err != nil {
		return fmt.Errorf("control: send messages: %w", err)
	}
	return nil
}
