package registry_test

import (
	"sync"
	"testing"

	"github.com/4xmen/goftego/internal/clock"
	"github.com/4xmen/goftego/internal/registry"
	"github.com/4xmen/goftego/internal/testutil"
)

func TestRegisterEvictsPreviousRoute(t *testing.T) {
	reg := registry.NewMemory()
	first := testutil.NewConn("alice")
	second := testutil.NewConn("alice")

	if evicted := reg.Register("alice", first); evicted != nil {
		t.Fatalf("first Register() evicted %v", evicted)
	}
	if evicted := reg.Register("alice", second); evicted != first {
		t.Fatalf("second Register() evicted %v, want first", evicted)
	}

	got, ok := reg.Lookup("alice")
	if !ok || got != second {
		t.Fatalf("Lookup() = %v, %v; want second", got, ok)
	}

	// The evicted handle disconnecting must not unroute the newer one.
	if reg.Unregister("alice", first) {
		t.Error("Unregister(first) removed the current route")
	}
	if _, ok := reg.Lookup("alice"); !ok {
		t.Error("route lost after stale unregister")
	}
	if !reg.Unregister("alice", second) {
		t.Error("Unregister(second) did not remove the route")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := registry.NewMemory()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := testutil.NewConn("user")
			reg.Register("user", conn)
			reg.Lookup("user")
			reg.Unregister("user", conn)
		}(i)
	}
	wg.Wait()

	if n := len(reg.OnlineUserIDs()); n > 1 {
		t.Errorf("OnlineUserIDs() = %d entries, want at most 1", n)
	}
}

func TestCallStateTimeoutGenerations(t *testing.T) {
	clk := clock.Fake(clock.Real().Now())
	var state registry.CallState

	fired := 0
	gen := state.BeginCalling("bob")
	state.SetTimer(gen, clk.AfterFunc(10, func() {
		if state.Expire(gen) {
			fired++
		}
	}))

	if !state.InCall() || state.Accepted() {
		t.Fatal("BeginCalling() did not enter calling state")
	}

	// A new attempt stops the old timer and invalidates its generation.
	next := state.BeginCalling("bob")
	if clk.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after new attempt, want 0", clk.PendingCount())
	}
	if state.Expire(gen) {
		t.Error("stale generation expired the new attempt")
	}

	if !state.Accept() {
		t.Fatal("Accept() reported no ringing call")
	}
	if state.Expire(next) {
		t.Error("accepted call expired")
	}

	state.Reset()
	if state.InCall() || state.Accepted() {
		t.Error("Reset() left call flags set")
	}
	if state.Accept() {
		t.Error("Accept() on idle state reported a ringing call")
	}
	if fired != 0 {
		t.Errorf("timer fired %d times", fired)
	}
}

func TestCallStateLeaveAndEndWith(t *testing.T) {
	clk := clock.Fake(clock.Real().Now())
	var state registry.CallState

	if peer, _ := state.Leave(); peer != "" {
		t.Errorf("Leave() on idle state = %q", peer)
	}

	gen := state.BeginCalling("bob")
	state.SetTimer(gen, clk.AfterFunc(10, func() {}))
	if state.Peer() != "bob" {
		t.Fatalf("Peer() = %q, want bob", state.Peer())
	}

	peer, ringing := state.Leave()
	if peer != "bob" || !ringing {
		t.Errorf("Leave() = %q, %v, want bob, true", peer, ringing)
	}
	if state.InCall() || state.Peer() != "" {
		t.Error("Leave() left call state set")
	}
	if clk.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after Leave, want 0", clk.PendingCount())
	}

	state.Join("carol")
	if state.EndWith("dave") {
		t.Error("EndWith() reset a call with another peer")
	}
	if !state.EndWith("carol") {
		t.Fatal("EndWith() did not end the call with carol")
	}
	if state.InCall() {
		t.Error("EndWith() left inCall set")
	}
}
