// Package dispatch routes each batch of protocol events to logging,
// persistence, caching, poll tallying and the auto-reply.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/failure"
	"github.com/MardaOneli/WaBot/internal/msgcache"
	"github.com/MardaOneli/WaBot/internal/poll"
)

const (
	DefaultTrigger   = "!ping"
	DefaultReplyText = "Hello there!"
)

// Lifecycle receives the connection decisions. The supervisor implements it.
type Lifecycle interface {
	// Connected is called when the connection opens.
	Connected(ctx context.Context)
	// Reconnect requests a fresh bootstrap after a transient close.
	Reconnect(ctx context.Context, reason events.DisconnectReason) error
	// Stop ends the session for good.
	Stop(ctx context.Context, reason events.DisconnectReason) error
}

// CredentialPersister writes the current credential state.
type CredentialPersister interface {
	PersistCredentials(ctx context.Context) error
}

// Replier sends the auto-reply.
type Replier interface {
	Reply(ctx context.Context, target, content string) error
}

// MessageCache is the read-through store used for poll lookups.
type MessageCache interface {
	Get(key msgcache.Key) (msgcache.Record, bool)
	Put(r msgcache.Record)
	AddVote(key msgcache.Key, v msgcache.VoteRecord) (msgcache.Record, bool)
}

// Options selects the optional behaviors.
type Options struct {
	AutoReply bool
	Trigger   string
	ReplyText string
	// HashOptions computes poll option hashes; required for poll tallies.
	HashOptions poll.HashFunc
}

// Dispatcher handles one batch at a time. Cache and Replier may be nil
// when the corresponding feature is disabled.
type Dispatcher struct {
	log       *zap.Logger
	lifecycle Lifecycle
	creds     CredentialPersister
	replier   Replier
	cache     MessageCache
	opts      Options
}

// New builds a Dispatcher.
func New(log *zap.Logger, lifecycle Lifecycle, creds CredentialPersister, replier Replier, cache MessageCache, opts Options) *Dispatcher {
	if opts.Trigger == "" {
		opts.Trigger = DefaultTrigger
	}
	if opts.ReplyText == "" {
		opts.ReplyText = DefaultReplyText
	}
	return &Dispatcher{
		log:       log,
		lifecycle: lifecycle,
		creds:     creds,
		replier:   replier,
		cache:     cache,
		opts:      opts,
	}
}

// Handle processes batch in order. Only lifecycle errors are returned;
// every other failure is logged.
func (d *Dispatcher) Handle(ctx context.Context, batch events.Batch) error {
	var errs []error
	for _, ev := range batch {
		if err := d.handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handle(ctx context.Context, ev events.Event) error {
	switch ev := ev.(type) {
	case events.ConnectionUpdate:
		return d.onConnection(ctx, ev)
	case events.CredentialsUpdated:
		d.onCredentials(ctx, ev)
	case events.MessagesUpsert:
		d.onMessages(ctx, ev)
	case events.HistorySync:
		d.onHistory(ev)
	case events.MessageStatus:
		d.log.Info("message status", zap.String("chat", ev.Chat), zap.Strings("ids", ev.IDs), zap.String("status", ev.Status))
	case events.Presence:
		d.log.Info("presence", zap.String("chat", ev.Chat), zap.String("from", ev.From), zap.String("state", ev.State))
	case events.Contact:
		d.log.Info("contact updated", zap.String("address", ev.Address), zap.String("name", ev.Name))
	case events.ChatUpdate:
		d.log.Info("chat updated", zap.String("chat", ev.Chat), zap.String("change", ev.Change), zap.Bool("value", ev.Value))
	case events.ChatDelete:
		d.log.Info("chat deleted", zap.String("chat", ev.Chat))
	case events.LabelEdit:
		d.log.Info("label edited", zap.String("label", ev.LabelID), zap.String("name", ev.Name), zap.Bool("deleted", ev.Deleted))
	case events.LabelAssociation:
		d.log.Info("label association", zap.String("chat", ev.Chat), zap.String("label", ev.LabelID), zap.Bool("labeled", ev.Labeled))
	case events.PollUpdate:
		d.onPollUpdate(ev)
	default:
		d.log.Debug("unhandled event", zap.Stringer("kind", ev.Kind()))
	}
	return nil
}

func (d *Dispatcher) onConnection(ctx context.Context, ev events.ConnectionUpdate) error {
	switch ev.State {
	case events.StateOpen:
		d.log.Info("opened connection")
		d.lifecycle.Connected(ctx)
	case events.StateConnecting:
		d.log.Info("connecting")
	case events.StateClosed:
		if ev.Reason.Permanent() {
			d.log.Warn("logged out, not reconnecting", zap.String("detail", ev.Detail))
			return d.lifecycle.Stop(ctx, ev.Reason)
		}
		d.log.Info("connection closed, reconnecting",
			zap.Stringer("reason", ev.Reason), zap.String("detail", ev.Detail))
		return d.lifecycle.Reconnect(ctx, ev.Reason)
	}
	return nil
}

func (d *Dispatcher) onCredentials(ctx context.Context, ev events.CredentialsUpdated) {
	if err := d.creds.PersistCredentials(ctx); err != nil {
		d.log.Error("failed to persist credentials",
			zap.Error(&failure.PersistError{Op: "credentials", Err: err}))
		return
	}
	d.log.Info("credentials updated, saved", zap.String("address", ev.Address))
}

func (d *Dispatcher) onMessages(ctx context.Context, ev events.MessagesUpsert) {
	if ce := d.log.Check(zap.DebugLevel, "messages upsert"); ce != nil {
		raw, _ := json.MarshalIndent(ev, "", "  ")
		ce.Write(zap.ByteString("batch", raw))
	}
	for _, m := range ev.Messages {
		d.log.Info("message",
			zap.String("chat", m.Key.Chat), zap.String("id", m.Key.ID),
			zap.Bool("from_me", m.Key.FromMe), zap.String("text", m.Text))
		d.remember(m)
	}

	if !d.opts.AutoReply || d.replier == nil || len(ev.Messages) == 0 {
		return
	}
	first := ev.Messages[0]
	if first.Text != d.opts.Trigger || !first.Key.FromMe {
		return
	}
	d.log.Info("replying", zap.String("to", first.Key.Chat))
	if err := d.replier.Reply(ctx, first.Key.Chat, d.opts.ReplyText); err != nil {
		d.log.Error("reply failed", zap.Error(err))
	}
}

func (d *Dispatcher) onHistory(ev events.HistorySync) {
	d.log.Info("received history sync",
		zap.String("type", ev.SyncType), zap.Int("chats", ev.Chats),
		zap.Int("messages", len(ev.Messages)), zap.Int("progress", ev.Progress))
	for _, m := range ev.Messages {
		d.remember(m)
	}
}

func (d *Dispatcher) remember(m events.Message) {
	if d.cache == nil {
		return
	}
	rec := msgcache.Record{
		Key:       msgcache.Key{Chat: m.Key.Chat, ID: m.Key.ID},
		Sender:    m.Sender,
		FromMe:    m.Key.FromMe,
		Text:      m.Text,
		Timestamp: m.Timestamp.Unix(),
	}
	if m.Poll != nil {
		rec.Poll = &msgcache.PollDef{Name: m.Poll.Name, Options: append([]string(nil), m.Poll.Options...)}
	}
	d.cache.Put(rec)
}

func (d *Dispatcher) onPollUpdate(ev events.PollUpdate) {
	key := msgcache.Key{Chat: ev.PollKey.Chat, ID: ev.PollKey.ID}
	if d.cache == nil {
		d.log.Info("poll update, no result", zap.String("poll", key.ID), zap.String("reason", "cache disabled"))
		return
	}
	rec, ok := d.cache.AddVote(key, msgcache.VoteRecord{
		Voter:    ev.Voter,
		Selected: ev.SelectedHashes,
		At:       ev.Timestamp.Unix(),
	})
	if !ok || rec.Poll == nil || d.opts.HashOptions == nil {
		d.log.Info("poll update, no result", zap.String("poll", key.ID))
		return
	}
	results := poll.Aggregate(rec.Poll.Options, votesOf(rec), d.opts.HashOptions)
	d.log.Info("poll update, aggregation",
		zap.String("poll", key.ID), zap.String("name", rec.Poll.Name),
		zap.Any("tally", poll.Counts(results)))
}

func votesOf(rec msgcache.Record) []poll.Vote {
	votes := make([]poll.Vote, 0, len(rec.Votes))
	for _, v := range rec.Votes {
		votes = append(votes, poll.Vote{Voter: v.Voter, SelectedHashes: v.Selected, Timestamp: time.Unix(v.At, 0).UTC()})
	}
	return votes
}
