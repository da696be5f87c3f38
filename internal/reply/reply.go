// Package reply sends a message the way a person would: subscribe to the
// peer's presence, show "composing" for a while, pause, then send.
package reply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/clock"
	"github.com/MardaOneli/WaBot/internal/failure"
)

// ChatPresence is the chat state announced to the peer.
type ChatPresence string

const (
	Composing ChatPresence = "composing"
	Paused    ChatPresence = "paused"
)

// Step names, as reported in failure.SendFailure.
const (
	StepSubscribe = "presence subscribe"
	StepComposing = "composing"
	StepPaused    = "paused"
	StepSend      = "send"
	StepWait      = "wait"
)

const (
	DefaultSubscribeDelay = 500 * time.Millisecond
	DefaultTypingDelay    = 2000 * time.Millisecond
)

// Messenger is the part of the protocol client the reply needs.
type Messenger interface {
	SubscribePresence(ctx context.Context, target string) error
	SendChatPresence(ctx context.Context, target string, state ChatPresence) error
	SendText(ctx context.Context, target, text string) error
}

// Action performs the reply sequence.
type Action struct {
	client         Messenger
	clock          clock.Clock
	log            *zap.Logger
	subscribeDelay time.Duration
	typingDelay    time.Duration
}

// Option configures an Action.
type Option func(*Action)

// WithClock injects the clock used for the waits.
func WithClock(c clock.Clock) Option { return func(a *Action) { a.clock = c } }

// WithDelays overrides the wait after subscribing and the typing time.
func WithDelays(subscribe, typing time.Duration) Option {
	return func(a *Action) {
		a.subscribeDelay = subscribe
		a.typingDelay = typing
	}
}

// New returns an Action sending through client.
func New(client Messenger, log *zap.Logger, opts ...Option) *Action {
	a := &Action{
		client:         client,
		clock:          clock.Real(),
		log:            log,
		subscribeDelay: DefaultSubscribeDelay,
		typingDelay:    DefaultTypingDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reply runs subscribe, wait, composing, wait, paused, send. The first
// failing step aborts the rest and is returned as *failure.SendFailure.
func (a *Action) Reply(ctx context.Context, target, content string) error {
	fail := func(step string, err error) error {
		return &failure.SendFailure{Step: step, Target: target, Err: err}
	}

	if err := a.client.SubscribePresence(ctx, target); err != nil {
		return fail(StepSubscribe, err)
	}
	if err := a.wait(ctx, a.subscribeDelay); err != nil {
		return fail(StepWait, err)
	}
	if err := a.client.SendChatPresence(ctx, target, Composing); err != nil {
		return fail(StepComposing, err)
	}
	if err := a.wait(ctx, a.typingDelay); err != nil {
		return fail(StepWait, err)
	}
	if err := a.client.SendChatPresence(ctx, target, Paused); err != nil {
		return fail(StepPaused, err)
	}
	if err := a.client.SendText(ctx, target, content); err != nil {
		return fail(StepSend, err)
	}

	a.log.Info("replied", zap.String("to", target))
	return nil
}

func (a *Action) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(d):
		return nil
	}
}
