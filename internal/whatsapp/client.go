// Package whatsapp adapts go.mau.fi/whatsmeow to the session and
// dispatch contracts: it converts library events into event batches and
// exposes the few client calls the bot makes.
package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/reply"
)

// DefaultBuffer is the number of batches queued before the library's
// event handler blocks.
const DefaultBuffer = 16

// Client wraps one whatsmeow client.
type Client struct {
	cli  *whatsmeow.Client
	log  *zap.Logger
	conv *converter

	handlerID uint32
	queue     *queue
}

func newClient(cli *whatsmeow.Client, log *zap.Logger, buffer int) *Client {
	c := &Client{
		cli:   cli,
		log:   log,
		queue: newQueue(buffer),
	}
	c.conv = &converter{log: log, decryptVote: cli.DecryptPollVote, parseWeb: cli.ParseWebMessage}
	c.handlerID = cli.AddEventHandler(c.handle)
	return c
}

// handle runs on the library's event goroutine. It blocks while the
// queue is full so the library sees the back-pressure.
func (c *Client) handle(evt any) {
	batch := c.conv.convert(context.Background(), evt)
	if len(batch) == 0 {
		return
	}
	c.queue.push(batch)
}

// Events implements session.Client.
func (c *Client) Events() <-chan events.Batch { return c.queue.events() }

// Connect opens the websocket. The library's own reconnect is off; the
// supervisor decides.
func (c *Client) Connect(context.Context) error {
	c.queue.push(events.Batch{events.ConnectionUpdate{State: events.StateConnecting}})
	return c.cli.Connect()
}

// Disconnect closes the socket and the event stream.
func (c *Client) Disconnect() {
	c.queue.close(func() {
		c.cli.RemoveEventHandler(c.handlerID)
		c.cli.Disconnect()
	})
}

// IsRegistered reports whether the device has been paired.
func (c *Client) IsRegistered() bool { return c.cli.Store.ID != nil }

// OwnAddress returns the paired device JID.
func (c *Client) OwnAddress() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.String()
}

// QRCodes relays the library's QR codes until pairing succeeds or times
// out.
func (c *Client) QRCodes(ctx context.Context) (<-chan string, error) {
	items, err := c.cli.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(chan string)
	go func() {
		defer close(codes)
		for item := range items {
			if item.Event != whatsmeow.QRChannelEventCode {
				c.log.Info("qr channel", zap.String("event", item.Event))
				continue
			}
			select {
			case codes <- item.Code:
			case <-ctx.Done():
				return
			}
		}
	}()
	return codes, nil
}

// RequestPairingCode links the device by phone number.
func (c *Client) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return c.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

// SubscribePresence implements reply.Messenger.
func (c *Client) SubscribePresence(_ context.Context, target string) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", target, err)
	}
	return c.cli.SubscribePresence(jid)
}

// SendChatPresence implements reply.Messenger.
func (c *Client) SendChatPresence(_ context.Context, target string, state reply.ChatPresence) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", target, err)
	}
	return c.cli.SendChatPresence(jid, types.ChatPresence(state), types.ChatPresenceMediaText)
}

// SendText implements reply.Messenger.
func (c *Client) SendText(ctx context.Context, target, text string) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", target, err)
	}
	resp, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return err
	}
	c.log.Debug("sent message", zap.String("to", target), zap.String("id", resp.ID))
	return nil
}

// HashPollOptions computes the option hashes voters send.
func HashPollOptions(options []string) [][]byte {
	return whatsmeow.HashPollOptions(options)
}
