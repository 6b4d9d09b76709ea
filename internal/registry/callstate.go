package registry

import (
	"sync"

	"github.com/4xmen/goftego/internal/clock"
)

// CallState holds one connection's call flags and its pending
// ring timeout.
type CallState struct {
	mu         sync.Mutex
	inCall     bool
	accepted   bool
	peer       string
	generation uint64
	timer      *clock.Timer
}

func (s *CallState) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inCall
}

func (s *CallState) Accepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Peer is the other party of the current call, or "" when idle.
func (s *CallState) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// BeginCalling moves the state to calling peerID and returns the
// attempt's generation. Any timer from an earlier attempt is stopped.
func (s *CallState) BeginCalling(peerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.inCall = true
	s.accepted = false
	s.peer = peerID
	s.generation++
	return s.generation
}

// SetTimer attaches t to attempt gen. If the attempt is already over, t
// is stopped instead.
func (s *CallState) SetTimer(gen uint64, t *clock.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.inCall || s.accepted {
		t.Stop()
		return
	}
	s.timer = t
}

// Accept marks the outgoing call as answered and cancels its timeout.
// It reports whether a call was still ringing.
func (s *CallState) Accept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ringing := s.inCall && !s.accepted
	s.stopTimerLocked()
	s.inCall = true
	s.accepted = true
	return ringing
}

// Join marks the connection as a party to an answered call with peerID.
func (s *CallState) Join(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inCall = true
	s.accepted = true
	s.peer = peerID
}

// Expire ends attempt gen if it is still ringing and reports whether it
// did.
func (s *CallState) Expire(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.inCall || s.accepted {
		return false
	}
	s.inCall = false
	s.peer = ""
	s.timer = nil
	return true
}

// Reset returns the connection to idle and cancels any pending timeout.
func (s *CallState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.resetLocked()
}

// Leave returns the connection to idle and reports the peer it was in a
// call with, and whether that call was still ringing. peer is "" when
// the connection was idle.
func (s *CallState) Leave() (peer string, ringing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inCall {
		return "", false
	}
	peer, ringing = s.peer, !s.accepted
	s.stopTimerLocked()
	s.resetLocked()
	return peer, ringing
}

// EndWith resets the state if it is in a call with peerID and reports
// whether it did.
func (s *CallState) EndWith(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inCall || s.peer != peerID {
		return false
	}
	s.stopTimerLocked()
	s.resetLocked()
	return true
}

func (s *CallState) resetLocked() {
	s.inCall = false
	s.accepted = false
	s.peer = ""
}

func (s *CallState) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
