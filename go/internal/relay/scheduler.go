package relay

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// CycleConfig holds the timings of the light cycle
type CycleConfig struct {
	CountdownFrom int           // first countdown value broadcast
	Tick          time.Duration // wait after each countdown value
	MinHoldSec    int           // random hold after ready, inclusive bounds
	MaxHoldSec    int
	GreenHold     time.Duration // wait after green before the next countdown
}

// DefaultCycleConfig returns the standard 10..1, ready, 1-10s hold, green 3s cycle
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		CountdownFrom: 10,
		Tick:          time.Second,
		MinHoldSec:    1,
		MaxHoldSec:    10,
		GreenHold:     3 * time.Second,
	}
}

// Scheduler runs one light-cycle goroutine per non-empty room
type Scheduler struct {
	config    CycleConfig
	clock     clockwork.Clock
	holdFn    func() time.Duration
	metrics   MetricsCollector
	publisher StatePublisher

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Int64
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithClock replaces the real clock; tests pass a clockwork.FakeClock
func WithClock(clock clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithHoldFunc replaces the random ready→green hold
func WithHoldFunc(fn func() time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.holdFn = fn }
}

// WithSchedulerMetrics sets the collector for broadcasts and faults
func WithSchedulerMetrics(m MetricsCollector) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithStatePublisher sets where every emitted state is published besides the room
func WithStatePublisher(p StatePublisher) SchedulerOption {
	return func(s *Scheduler) { s.publisher = p }
}

// NewScheduler creates a scheduler. No goroutine runs until a room is armed.
func NewScheduler(config CycleConfig, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config:     config,
		clock:      clockwork.NewRealClock(),
		metrics:    &NoOpMetricsCollector{},
		publisher:  &NoOpPublisher{},
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	s.holdFn = s.randomHold
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) randomHold() time.Duration {
	span := s.config.MaxHoldSec - s.config.MinHoldSec + 1
	if span < 1 {
		span = 1
	}
	return time.Duration(s.config.MinHoldSec+rand.IntN(span)) * time.Second
}

// Running returns the number of live cycle goroutines
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Wait blocks until every cycle goroutine has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop cancels every cycle and waits for the goroutines to exit
func (s *Scheduler) Stop() {
	s.rootCancel()
	s.Wait()
}

// start launches the cycle for room. Called by the store with the room lock held.
func (s *Scheduler) start(room *Room, b *Broadcaster) *cycleHandle {
	ctx, cancel := context.WithCancel(s.rootCtx)
	h := &cycleHandle{cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer func() {
			cancel()
			s.running.Add(-1)
			close(h.done)
			s.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				// Members stay; the next create/join into the room re-arms the cycle
				log.Error().
					Interface("panic", r).
					Str("room", room.Code).
					Msg("light cycle fault, scheduler stopped")
				s.metrics.SchedulerFault()
				room.clearCycle(h)
			}
		}()
		s.run(ctx, room, b)
	}()

	log.Debug().Str("room", room.Code).Msg("light cycle armed")
	return h
}

// run loops countdown → ready → hold → green until ctx is cancelled
func (s *Scheduler) run(ctx context.Context, room *Room, b *Broadcaster) {
	log.Info().Str("room", room.Code).Msg("light cycle started")
	defer log.Info().Str("room", room.Code).Msg("light cycle stopped")

	for {
		for t := s.config.CountdownFrom; t >= 1; t-- {
			if !s.emit(ctx, room, b, Countdown(t)) {
				return
			}
			if !s.wait(ctx, s.config.Tick) {
				return
			}
		}

		if !s.emit(ctx, room, b, Ready()) {
			return
		}
		hold := s.holdFn()
		log.Debug().Str("room", room.Code).Dur("hold", hold).Msg("holding before green")
		if !s.wait(ctx, hold) {
			return
		}

		if !s.emit(ctx, room, b, Green()) {
			return
		}
		if !s.wait(ctx, s.config.GreenHold) {
			return
		}
	}
}

// emit caches and broadcasts one state; false once the cycle is cancelled
func (s *Scheduler) emit(ctx context.Context, room *Room, b *Broadcaster, state LightState) bool {
	members, ok := room.publish(ctx, state)
	if !ok {
		return false
	}

	delivered := b.deliver(room, members, StateMessage(state).Encode(), nil)
	s.metrics.StateBroadcast(state.Phase, delivered)

	if err := s.publisher.PublishState(ctx, room.Code, state); err != nil {
		log.Warn().Err(err).Str("room", room.Code).Msg("failed to publish light state")
	}

	log.Debug().
		Str("room", room.Code).
		Str("state", state.String()).
		Int("delivered", delivered).
		Msg("light state broadcast")
	return true
}

// wait suspends for d on the scheduler clock; false if cancelled first
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		stopAndDrainTimer(timer)
		return false
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
