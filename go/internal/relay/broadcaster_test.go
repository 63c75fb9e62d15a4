package relay

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBroadcastPrunesFailedMembers(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	r := newTestRelay(t)
	r.store.metrics = metrics
	r.store.broadcaster.metrics = metrics

	a, b := newFakePeer("a"), newFakePeer("b")
	room, err := r.store.Create("1234", a, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.store.Join("1234", b, nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	r.waitBlocked(t, 1)

	b.setFail(true)
	msg := InfoMessage("hello").Encode()
	if n := r.store.Broadcaster().Broadcast(room, msg); n != 1 {
		t.Errorf("wrong delivered count expected: 1 got: %d", n)
	}

	if room.HasMember(b) {
		t.Errorf("failed member still in the room")
	}
	if !b.isClosed() {
		t.Errorf("failed member was not closed")
	}
	if _, ok := r.registry.RoomOf(b); ok {
		t.Errorf("failed member still assigned in the registry")
	}
	if !room.HasMember(a) {
		t.Errorf("healthy member removed")
	}
	if got := testutil.ToFloat64(metrics.deliveryFailures); got != 1 {
		t.Errorf("wrong failure count expected: 1 got: %v", got)
	}
}

func TestBroadcastFailureEmptiesRoom(t *testing.T) {
	r := newTestRelay(t)
	a := newFakePeer("a")

	if _, err := r.store.Create("1234", a, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	r.waitBlocked(t, 1)

	// The scheduler's own broadcast prunes the last member and tears the room down
	a.setFail(true)
	r.clock.Advance(time.Second)

	eventually(t, "room to be deleted", func() bool { return r.store.Len() == 0 })
	eventually(t, "cycle to exit", func() bool { return r.scheduler.Running() == 0 })
	if !a.isClosed() {
		t.Errorf("failed member was not closed")
	}
}

func TestBroadcastExcept(t *testing.T) {
	r := newTestRelay(t)
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")

	room, _ := r.store.Create("1234", a, nil)
	r.store.Join("1234", b, nil)
	r.store.Join("1234", c, nil)
	r.waitBlocked(t, 1)
	for _, p := range []*fakePeer{a, b, c} {
		p.reset()
	}

	if n := r.store.Broadcaster().BroadcastExcept(room, []byte(`{"x":1}`), a); n != 2 {
		t.Errorf("wrong delivered count expected: 2 got: %d", n)
	}
	if len(a.raw()) != 0 {
		t.Errorf("sender received its own message")
	}
	for _, p := range []*fakePeer{b, c} {
		if got := p.raw(); len(got) != 1 || string(got[0]) != `{"x":1}` {
			t.Errorf("peer %s got %q", p.id, got)
		}
	}
}
