package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/clock"
	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/failure"
	"github.com/MardaOneli/WaBot/internal/reply"
)

// scriptedStarter hands out the queued results in order and announces
// every call on started.
type scriptedStarter struct {
	mu      sync.Mutex
	results []startResult
	calls   int
	started chan int
}

type startResult struct {
	client *fakeClient
	err    error
}

func newScriptedStarter(results ...startResult) *scriptedStarter {
	return &scriptedStarter{results: results, started: make(chan int, 32)}
}

func (s *scriptedStarter) Bootstrap(context.Context) (Client, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	var r startResult
	if len(s.results) > 0 {
		r = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	s.mu.Unlock()
	s.started <- n
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

func (s *scriptedStarter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// lifecycleHandler plays the dispatcher: open -> Connected, logged out
// -> Stop, any other close -> Reconnect.
type lifecycleHandler struct {
	sup *Supervisor
}

func (h lifecycleHandler) Handle(ctx context.Context, batch events.Batch) error {
	for _, ev := range batch {
		cu, ok := ev.(events.ConnectionUpdate)
		if !ok {
			continue
		}
		switch {
		case cu.State == events.StateOpen:
			h.sup.Connected(ctx)
		case cu.State == events.StateClosed && cu.Reason.Permanent():
			if err := h.sup.Stop(ctx, cu.Reason); err != nil {
				return err
			}
		case cu.State == events.StateClosed:
			if err := h.sup.Reconnect(ctx, cu.Reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func opened() events.Batch {
	return events.Batch{events.ConnectionUpdate{State: events.StateOpen}}
}

func closed(reason events.DisconnectReason) events.Batch {
	return events.Batch{events.ConnectionUpdate{State: events.StateClosed, Reason: reason}}
}

func runSupervisor(ctx context.Context, t *testing.T, sup *Supervisor) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, lifecycleHandler{sup}) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func waitStarted(t *testing.T, s *scriptedStarter, want int) {
	t.Helper()
	select {
	case n := <-s.started:
		require.Equal(t, want, n)
	case <-time.After(2 * time.Second):
		t.Fatalf("bootstrap %d not started", want)
	}
}

func TestSupervisorLoggedOutStops(t *testing.T) {
	client := newFakeClient()
	starter := newScriptedStarter(startResult{client: client})
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(clock.Fake(time.Unix(0, 0))))

	done := runSupervisor(context.Background(), t, sup)
	waitStarted(t, starter, 1)
	client.events <- opened()
	client.events <- closed(events.ReasonLoggedOut)

	err := waitResult(t, done)
	assert.ErrorIs(t, err, failure.ErrLoggedOut)
	var closedErr *failure.ConnectionClosed
	if assert.ErrorAs(t, err, &closedErr) {
		assert.True(t, closedErr.Permanent)
		assert.Equal(t, events.ReasonLoggedOut.String(), closedErr.Reason)
	}
	assert.Equal(t, 1, starter.callCount())
	assert.Equal(t, StateStopped, sup.Status().State)
	assert.Equal(t, "logged out", sup.Status().LastReason)
	_, disconnects, _ := client.snapshot()
	assert.Equal(t, 1, disconnects)
}

func TestSupervisorReconnectsAfterBackoff(t *testing.T) {
	first, second := newFakeClient(), newFakeClient()
	second.address = "15551234567@s.whatsapp.net"
	starter := newScriptedStarter(startResult{client: first}, startResult{client: second})
	fc := clock.Fake(time.Unix(0, 0))
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runSupervisor(ctx, t, sup)
	waitStarted(t, starter, 1)
	first.events <- opened()
	first.events <- closed(events.ReasonConnectionLost)

	fc.WaitForTimers(1)
	st := sup.Status()
	assert.Equal(t, StateBackoff, st.State)
	assert.Equal(t, 1, st.Attempt)
	assert.Equal(t, "connection lost", st.LastReason)
	assert.Equal(t, 1, starter.callCount())

	fc.Advance(time.Second)
	waitStarted(t, starter, 2)
	second.events <- opened()
	require.Eventually(t, func() bool { return sup.Status().State == StateConnected }, time.Second, 5*time.Millisecond)
	st = sup.Status()
	assert.Zero(t, st.Attempt)
	assert.Equal(t, 2, st.Opens)
	assert.Equal(t, second.address, st.Address)

	cancel()
	assert.NoError(t, waitResult(t, done))
}

func TestSupervisorBackoffSequenceAndLimit(t *testing.T) {
	starter := newScriptedStarter(startResult{err: errors.New("dial tcp: refused")})
	fc := clock.Fake(time.Unix(0, 0))
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(fc), WithBackoff(Backoff{
		Initial: time.Second, Max: 3 * time.Second, Factor: 2, MaxAttempts: 3,
	}))

	done := runSupervisor(context.Background(), t, sup)
	waitStarted(t, starter, 1)

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		fc.WaitForTimers(1)
		assert.Equal(t, i+1, sup.Status().Attempt)
		fc.Advance(delay - time.Millisecond)
		assert.Equal(t, i+1, starter.callCount(), "bootstrap before the delay elapsed")
		fc.Advance(time.Millisecond)
		waitStarted(t, starter, i+2)
	}

	assert.ErrorIs(t, waitResult(t, done), failure.ErrReconnectLimit)
	assert.Equal(t, 4, starter.callCount())
}

func TestSupervisorReconnectLimitFromDispatcher(t *testing.T) {
	clients := []*fakeClient{newFakeClient(), newFakeClient()}
	starter := newScriptedStarter(startResult{client: clients[0]}, startResult{client: clients[1]})
	fc := clock.Fake(time.Unix(0, 0))
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(fc), WithBackoff(Backoff{
		Initial: time.Second, Max: time.Second, Factor: 2, MaxAttempts: 1,
	}))

	done := runSupervisor(context.Background(), t, sup)
	waitStarted(t, starter, 1)
	clients[0].events <- closed(events.ReasonConnectFailure)
	fc.WaitForTimers(1)
	fc.Advance(time.Second)
	waitStarted(t, starter, 2)
	clients[1].events <- closed(events.ReasonConnectFailure)

	err := waitResult(t, done)
	assert.ErrorIs(t, err, failure.ErrReconnectLimit)
	var closedErr *failure.ConnectionClosed
	if assert.ErrorAs(t, err, &closedErr) {
		assert.False(t, closedErr.Permanent)
		assert.Equal(t, events.ReasonConnectFailure.String(), closedErr.Reason)
	}
}

func TestSupervisorAttemptsResetOnOpen(t *testing.T) {
	clients := []*fakeClient{newFakeClient(), newFakeClient(), newFakeClient()}
	starter := newScriptedStarter(
		startResult{client: clients[0]},
		startResult{client: clients[1]},
		startResult{client: clients[2]},
	)
	fc := clock.Fake(time.Unix(0, 0))
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(fc), WithBackoff(Backoff{
		Initial: time.Second, Max: time.Second, Factor: 2, MaxAttempts: 1,
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runSupervisor(ctx, t, sup)
	for i := 0; i < 2; i++ {
		waitStarted(t, starter, i+1)
		clients[i].events <- opened()
		clients[i].events <- closed(events.ReasonConnectionReplaced)
		fc.WaitForTimers(1)
		fc.Advance(time.Second)
	}
	waitStarted(t, starter, 3)

	cancel()
	assert.NoError(t, waitResult(t, done))
}

func TestSupervisorEventStreamClosed(t *testing.T) {
	first, second := newFakeClient(), newFakeClient()
	starter := newScriptedStarter(startResult{client: first}, startResult{client: second})
	fc := clock.Fake(time.Unix(0, 0))
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runSupervisor(ctx, t, sup)
	waitStarted(t, starter, 1)
	first.Disconnect()
	fc.WaitForTimers(1)
	fc.Advance(time.Second)
	waitStarted(t, starter, 2)

	cancel()
	assert.NoError(t, waitResult(t, done))
}

func TestSupervisorAuthLoadErrorIsFatal(t *testing.T) {
	starter := newScriptedStarter(startResult{err: &failure.AuthLoadError{Source: "sqlite3", Err: errors.New("corrupt")}})
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(clock.Fake(time.Unix(0, 0))))

	err := sup.Run(context.Background(), lifecycleHandler{sup})

	var ale *failure.AuthLoadError
	assert.ErrorAs(t, err, &ale)
	assert.Equal(t, 1, starter.callCount())
}

func TestSupervisorHandlerErrorStops(t *testing.T) {
	client := newFakeClient()
	starter := newScriptedStarter(startResult{client: client})
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(clock.Fake(time.Unix(0, 0))))
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background(), handlerFunc(func(context.Context, events.Batch) error { return boom }))
	}()
	waitStarted(t, starter, 1)
	client.events <- opened()

	assert.ErrorIs(t, waitResult(t, done), boom)
}

type handlerFunc func(ctx context.Context, batch events.Batch) error

func (f handlerFunc) Handle(ctx context.Context, batch events.Batch) error { return f(ctx, batch) }

func TestSupervisorMessengerForwardsToCurrentClient(t *testing.T) {
	client := newFakeClient()
	starter := newScriptedStarter(startResult{client: client})
	sup := NewSupervisor(starter, zap.NewNop(), WithClock(clock.Fake(time.Unix(0, 0))))
	m := sup.Messenger()

	err := m.SendText(context.Background(), "chat", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	sent := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background(), handlerFunc(func(ctx context.Context, _ events.Batch) error {
			assert.NoError(t, m.SubscribePresence(ctx, "chat"))
			assert.NoError(t, m.SendChatPresence(ctx, "chat", reply.Composing))
			assert.NoError(t, m.SendText(ctx, "chat", "hi"))
			close(sent)
			return sup.Stop(ctx, events.ReasonLoggedOut)
		}))
	}()
	waitStarted(t, starter, 1)
	client.events <- opened()
	<-sent

	assert.ErrorIs(t, waitResult(t, done), failure.ErrLoggedOut)
	_, _, calls := client.snapshot()
	assert.Equal(t, []string{"subscribe chat", "composing chat", "send chat hi"}, calls)
}

func TestStatusString(t *testing.T) {
	s := Status{State: StateBackoff, Attempt: 2, Since: time.Unix(0, 0).UTC()}
	assert.JSONEq(t, `{"state":"backoff","attempt":2,"since":"1970-01-01T00:00:00Z","opens":0}`, s.String())
}
