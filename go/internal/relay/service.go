package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service is the race-light relay: rooms, light cycles and the WebSocket surface
type Service struct {
	registry     *Registry
	scheduler    *Scheduler
	store        *Store
	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
	roomService  *RoomService
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	CycleConfig      CycleConfig
	// Passthrough relays non-intent messages to the rest of the sender's room
	Passthrough bool
	// RateLimit caps WebSocket upgrades per client IP per minute; 0 disables it
	RateLimit int
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CycleConfig:      DefaultCycleConfig(),
		RateLimit:        60,
	}
}

type serviceOptions struct {
	clock     clockwork.Clock
	holdFn    func() time.Duration
	metrics   MetricsCollector
	publisher StatePublisher
}

// Option configures a Service
type Option func(*serviceOptions)

// WithServiceClock drives every light cycle from clock
func WithServiceClock(clock clockwork.Clock) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithServiceHoldFunc fixes the ready→green hold
func WithServiceHoldFunc(fn func() time.Duration) Option {
	return func(o *serviceOptions) { o.holdFn = fn }
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithPublisher sets the external state publisher
func WithPublisher(p StatePublisher) Option {
	return func(o *serviceOptions) { o.publisher = p }
}

// NewService creates a new relay service
func NewService(config Config, opts ...Option) *Service {
	o := serviceOptions{
		clock:     clockwork.NewRealClock(),
		metrics:   &NoOpMetricsCollector{},
		publisher: &NoOpPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	schedulerOpts := []SchedulerOption{
		WithClock(o.clock),
		WithSchedulerMetrics(o.metrics),
		WithStatePublisher(o.publisher),
	}
	if o.holdFn != nil {
		schedulerOpts = append(schedulerOpts, WithHoldFunc(o.holdFn))
	}

	registry := NewRegistry()
	scheduler := NewScheduler(config.CycleConfig, schedulerOpts...)
	store := NewStore(registry, scheduler, WithStoreMetrics(o.metrics), WithStorePublisher(o.publisher))

	wsHandler := NewWebSocketHandler(config.ConnectionConfig, store, registry, scheduler, o.metrics)
	wsHandler.passthrough = config.Passthrough
	wsHandler.rateLimit = config.RateLimit

	return &Service{
		registry:     registry,
		scheduler:    scheduler,
		store:        store,
		wsHandler:    wsHandler,
		stateHandler: NewStateHandler(store),
		roomService:  NewRoomService(store),
	}
}

// Start blocks until ctx is cancelled, then stops the service
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race-light relay service")
	<-ctx.Done()
	log.Info().Msg("race-light relay service shutting down")
	return s.Stop()
}

// Stop closes every connection and waits for all light cycles to exit
func (s *Service) Stop() error {
	for _, p := range s.registry.Peers() {
		s.store.Leave(p)
		p.Close()
	}
	s.scheduler.Stop()
	log.Info().Msg("race-light relay service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, state and RoomService routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle(NewRoomServiceHandler(s.roomService))
	log.Info().Msg("relay routes registered")
}

// Store returns the room store
func (s *Service) Store() *Store { return s.store }

// Scheduler returns the light-cycle scheduler
func (s *Service) Scheduler() *Scheduler { return s.scheduler }

// GetStats returns statistics about the relay
func (s *Service) GetStats() ConnectionStats {
	return s.wsHandler.Stats()
}
