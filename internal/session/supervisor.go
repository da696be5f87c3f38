package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/clock"
	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/failure"
	"github.com/MardaOneli/WaBot/internal/reply"
)

// State is the supervisor's position in the connect loop.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time copy of the supervisor state.
type Status struct {
	State State `json:"state"`
	// Attempt is the current consecutive reconnect attempt, 0 once
	// connected.
	Attempt    int       `json:"attempt"`
	LastReason string    `json:"last_reason,omitempty"`
	Address    string    `json:"address,omitempty"`
	Since      time.Time `json:"since"`
	Opens      int       `json:"opens"`
}

// String renders the status as JSON.
func (s Status) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Starter produces connected clients.
type Starter interface {
	Bootstrap(ctx context.Context) (Client, error)
}

// Handler consumes event batches. The supervisor calls it from a single
// goroutine and waits for it before reading the next batch.
type Handler interface {
	Handle(ctx context.Context, batch events.Batch) error
}

type decision int

const (
	decisionNone decision = iota
	decisionReconnect
	decisionStop
)

// Supervisor owns the connect loop. It implements the dispatcher's
// lifecycle hooks and forwards sends to the current client.
type Supervisor struct {
	starter Starter
	log     *zap.Logger
	clock   clock.Clock
	backoff Backoff

	mu      sync.Mutex
	status  Status
	client  Client
	attempt int
	pending decision
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock used for backoff waits.
func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithBackoff replaces DefaultBackoff.
func WithBackoff(b Backoff) Option { return func(s *Supervisor) { s.backoff = b } }

// NewSupervisor returns a Supervisor in the connecting state.
func NewSupervisor(starter Starter, log *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		starter: starter,
		log:     log,
		clock:   clock.Real(),
		backoff: DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status = Status{State: StateConnecting, Since: s.clock.Now()}
	return s
}

// Status returns a copy of the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run bootstraps and dispatches until ctx ends, the session is logged
// out or the reconnect limit is reached. It returns nil on ctx
// cancellation and an *failure.AuthLoadError when credentials cannot be
// read. A logout or running out of attempts returns a
// *failure.ConnectionClosed wrapping failure.ErrLoggedOut or
// failure.ErrReconnectLimit.
func (s *Supervisor) Run(ctx context.Context, h Handler) error {
	defer s.setState(StateStopped, 0)

	for {
		s.setState(StateConnecting, s.currentAttempt())
		client, err := s.starter.Bootstrap(ctx)
		if ctx.Err() != nil {
			if client != nil {
				client.Disconnect()
			}
			return nil
		}
		if err != nil {
			var ale *failure.AuthLoadError
			if errors.As(err, &ale) {
				return err
			}
			s.log.Error("bootstrap failed", zap.Error(err))
			if err := s.nextAttempt(events.ReasonConnectFailure); err != nil {
				return err
			}
		} else {
			err = s.serve(ctx, client, h)
			client.Disconnect()
			s.setClient(nil)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
		}

		n := s.currentAttempt()
		delay := s.backoff.Delay(n)
		s.setState(StateBackoff, n)
		s.log.Info("waiting before reconnect", zap.Int("attempt", n), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(delay):
		}
	}
}

// serve dispatches batches until the handler asks for a reconnect or a
// stop. A nil return means reconnect.
func (s *Supervisor) serve(ctx context.Context, client Client, h Handler) error {
	s.setClient(client)
	batches := client.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				s.log.Warn("event stream closed, reconnecting")
				return s.nextAttempt(events.ReasonConnectionLost)
			}
			if err := h.Handle(ctx, batch); err != nil {
				return err
			}
			switch s.takeDecision() {
			case decisionStop:
				return &failure.ConnectionClosed{
					Reason:    s.Status().LastReason,
					Permanent: true,
					Err:       failure.ErrLoggedOut,
				}
			case decisionReconnect:
				return nil
			}
		}
	}
}

// Connected resets the attempt counter.
func (s *Supervisor) Connected(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
	s.status.Opens++
	if s.client != nil {
		s.status.Address = s.client.OwnAddress()
	}
	s.setStateLocked(StateConnected, 0)
}

// Reconnect schedules a fresh bootstrap once the current batch is done.
// It returns a *failure.ConnectionClosed wrapping failure.ErrReconnectLimit
// when no attempts are left.
func (s *Supervisor) Reconnect(_ context.Context, reason events.DisconnectReason) error {
	if err := s.nextAttempt(reason); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = decisionReconnect
	s.mu.Unlock()
	return nil
}

// Stop ends the loop once the current batch is done.
func (s *Supervisor) Stop(_ context.Context, reason events.DisconnectReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = decisionStop
	s.status.LastReason = reason.String()
	return nil
}

func (s *Supervisor) nextAttempt(reason events.DisconnectReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	s.status.LastReason = reason.String()
	if s.backoff.Exhausted(s.attempt) {
		s.log.Error("giving up reconnecting", zap.Int("attempts", s.attempt-1))
		return &failure.ConnectionClosed{Reason: reason.String(), Err: failure.ErrReconnectLimit}
	}
	return nil
}

func (s *Supervisor) takeDecision() decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.pending
	s.pending = decisionNone
	return d
}

func (s *Supervisor) currentAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Supervisor) setClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

func (s *Supervisor) setState(state State, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state, attempt)
}

func (s *Supervisor) setStateLocked(state State, attempt int) {
	if s.status.State != state {
		s.status.Since = s.clock.Now()
	}
	s.status.State = state
	s.status.Attempt = attempt
}

func (s *Supervisor) current() (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// Messenger returns a reply.Messenger bound to whichever client is
// current at call time.
func (s *Supervisor) Messenger() reply.Messenger { return forwarder{s} }

type forwarder struct{ s *Supervisor }

func (f forwarder) SubscribePresence(ctx context.Context, target string) error {
	c, err := f.s.current()
	if err != nil {
		return err
	}
	return c.SubscribePresence(ctx, target)
}

func (f forwarder) SendChatPresence(ctx context.Context, target string, state reply.ChatPresence) error {
	c, err := f.s.current()
	if err != nil {
		return err
	}
	return c.SendChatPresence(ctx, target, state)
}

func (f forwarder) SendText(ctx context.Context, target, text string) error {
	c, err := f.s.current()
	if err != nil {
		return err
	}
	return c.SendText(ctx, target, text)
}
