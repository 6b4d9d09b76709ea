// Package call relays peer-to-peer call signaling between connected
// users and enforces ring timeouts and busy/offline rejection.
package call

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/events"
	"github.com/4xmen/goftego/internal/registry"
)

const DefaultTimeout = 30 * time.Second

// Decline reasons carried by call_declined.
const (
	ReasonOffline  = "offline"
	ReasonBusy     = "busy"
	ReasonRejected = "rejected"
)

var ErrInvalidSignal = errors.New("invalid call signal")

type Coordinator struct {
	registry registry.Registry
	clock    clock.Clock
	timeout  time.Duration
}

func New(reg registry.Registry, clk clock.Clock, timeout time.Duration) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{registry: reg, clock: clk, timeout: timeout}
}

// Initiate rings calleeID on behalf of caller. An offline or busy callee
// is reported to the caller with call_declined and leaves the caller's
// state untouched.
func (c *Coordinator) Initiate(caller registry.Conn, calleeID string, signal any, name string) error {
	if calleeID == "" {
		return fmt.Errorf("%w: missing callee", ErrInvalidSignal)
	}
	if err := ValidateSignal(signal); err != nil {
		return err
	}

	callee, ok := c.registry.Lookup(calleeID)
	if !ok {
		caller.Send(events.New(events.CallDeclined, events.DeclinedPayload{
			Message: "User is offline",
			Reason:  ReasonOffline,
		}))
		return nil
	}
	if callee.Calls().InCall() {
		caller.Send(events.New(events.CallDeclined, events.DeclinedPayload{
			Message: "User is busy on another call",
			Reason:  ReasonBusy,
		}))
		return nil
	}

	callerID := caller.UserID()
	state := caller.Calls()
	gen := state.BeginCalling(calleeID)
	state.SetTimer(gen, c.clock.AfterFunc(c.timeout, func() {
		c.expire(caller, calleeID, name, gen)
	}))

	callee.Send(events.New(events.CallUser, events.IncomingCallPayload{
		Signal: signal,
		From:   callerID,
		Name:   name,
	}))
	log.Printf("Call %s -> %s ringing", callerID, calleeID)
	return nil
}

func (c *Coordinator) expire(caller registry.Conn, calleeID, name string, gen uint64) {
	if !caller.Calls().Expire(gen) {
		return
	}

	caller.Send(events.New(events.CallTimeout, events.TimeoutPayload{Message: "Call was not answered"}))
	if callee, ok := c.registry.Lookup(calleeID); ok {
		callee.Send(events.New(events.CallMissed, events.MissedPayload{From: caller.UserID(), Name: name}))
	}
	log.Printf("Call %s -> %s timed out", caller.UserID(), calleeID)
}

// Answer accepts callerID's call on behalf of callee and relays the
// answer signal.
func (c *Coordinator) Answer(callee registry.Conn, callerID string, signal any) error {
	if err := ValidateSignal(signal); err != nil {
		return err
	}

	caller, ok := c.registry.Lookup(callerID)
	if !ok {
		return nil
	}

	if !caller.Calls().Accept() {
		log.Printf("Call %s -> %s answered with no ringing attempt", callerID, callee.UserID())
	}
	callee.Calls().Join(callerID)
	caller.Send(events.New(events.CallAccepted, signal))
	return nil
}

// Reject declines callerID's call on behalf of callee.
func (c *Coordinator) Reject(callee registry.Conn, callerID, reason string) {
	caller, ok := c.registry.Lookup(callerID)
	if !ok {
		return
	}

	caller.Calls().Reset()
	message := reason
	if message == "" {
		message = "Call was declined"
	}
	caller.Send(events.New(events.CallDeclined, events.DeclinedPayload{
		Message: message,
		Reason:  ReasonRejected,
	}))
}

// End hangs up the call between ender and otherID.
func (c *Coordinator) End(ender registry.Conn, otherID string) {
	ender.Calls().Reset()

	other, ok := c.registry.Lookup(otherID)
	if !ok {
		return
	}
	other.Calls().Reset()
	other.Send(events.New(events.CallEnded, nil))
}

// Disconnected ends the call conn was part of when its connection goes
// away. A peer still in that call is reset and receives callended, as is
// an idle callee that was still being rung.
func (c *Coordinator) Disconnected(conn registry.Conn) {
	peerID, ringing := conn.Calls().Leave()
	if peerID == "" {
		return
	}

	peer, ok := c.registry.Lookup(peerID)
	if !ok {
		return
	}
	switch {
	case peer.Calls().EndWith(conn.UserID()):
	case ringing && !peer.Calls().InCall():
	default:
		return
	}
	peer.Send(events.New(events.CallEnded, nil))
	log.Printf("Call %s <-> %s ended by disconnect", conn.UserID(), peerID)
}

// ValidateSignal rejects missing signals and offer or answer
// descriptions whose SDP does not parse. Other signal shapes, such as
// ICE candidates, are relayed as-is.
func ValidateSignal(signal any) error {
	if signal == nil {
		return fmt.Errorf("%w: missing signal", ErrInvalidSignal)
	}

	fields, ok := signal.(map[string]any)
	if !ok {
		return nil
	}
	sdpType, _ := fields["type"].(string)
	sdp, hasSDP := fields["sdp"].(string)

	switch webrtc.NewSDPType(sdpType) {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
	default:
		return nil
	}
	if !hasSDP {
		return fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, sdpType)
	}

	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(sdpType), SDP: sdp}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return nil
}
