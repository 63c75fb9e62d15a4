package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakePeer struct {
	id string

	mu          sync.Mutex
	received    [][]byte
	failSend    bool
	panicOnSend bool
	closed      bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panicOnSend {
		panic("send exploded")
	}
	if p.closed {
		return ErrConnectionClosed
	}
	if p.failSend {
		return ErrSendBufferFull
	}
	p.received = append(p.received, msg)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSend = fail
}

func (p *fakePeer) setPanic(panicking bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panicOnSend = panicking
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) raw() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.received))
	copy(out, p.received)
	return out
}

func (p *fakePeer) messages(t *testing.T) []ServerMessage {
	t.Helper()
	var msgs []ServerMessage
	for _, data := range p.raw() {
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("peer %s received invalid json %q: %v", p.id, data, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func (p *fakePeer) states(t *testing.T) []LightState {
	t.Helper()
	var states []LightState
	for _, msg := range p.messages(t) {
		if s, ok := msg.LightState(); ok {
			states = append(states, s)
		}
	}
	return states
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = nil
}

type testRelay struct {
	clock     *clockwork.FakeClock
	registry  *Registry
	scheduler *Scheduler
	store     *Store
}

const testHold = 2 * time.Second

func newTestRelay(t *testing.T, opts ...SchedulerOption) *testRelay {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]SchedulerOption{
		WithClock(clock),
		WithHoldFunc(func() time.Duration { return testHold }),
	}, opts...)

	registry := NewRegistry()
	scheduler := NewScheduler(DefaultCycleConfig(), opts...)
	store := NewStore(registry, scheduler)
	t.Cleanup(scheduler.Stop)

	return &testRelay{clock: clock, registry: registry, scheduler: scheduler, store: store}
}

// waitBlocked waits until n cycle goroutines are parked on the fake clock
func (r *testRelay) waitBlocked(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("timed out waiting for %d blocked cycles: %v", n, err)
	}
}

// advance moves the fake clock and waits for n cycles to park again
func (r *testRelay) advance(t *testing.T, d time.Duration, n int) {
	t.Helper()
	r.clock.Advance(d)
	r.waitBlocked(t, n)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
