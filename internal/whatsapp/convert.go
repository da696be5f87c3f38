package whatsapp

import (
	"context"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/events"
)

// converter maps library events onto the records the dispatcher reads.
// The two hooks are client methods in production.
type converter struct {
	log         *zap.Logger
	decryptVote func(ctx context.Context, msg *waEvents.Message) (*waE2E.PollVoteMessage, error)
	parseWeb    func(chat types.JID, msg *waWeb.WebMessageInfo) (*waEvents.Message, error)
}

// convert returns the records for one library event; nil when the kind
// is not relayed.
func (c *converter) convert(ctx context.Context, evt any) events.Batch {
	switch evt := evt.(type) {
	case *waEvents.Connected:
		return events.Batch{events.ConnectionUpdate{State: events.StateOpen}}
	case *waEvents.Disconnected:
		return closed(events.ReasonConnectionLost, "")
	case *waEvents.StreamReplaced:
		return closed(events.ReasonConnectionReplaced, "")
	case *waEvents.LoggedOut:
		return closed(events.ReasonLoggedOut, evt.Reason.String())
	case *waEvents.ConnectFailure:
		return closed(events.ReasonConnectFailure, evt.Message)
	case *waEvents.ClientOutdated:
		return closed(events.ReasonClientOutdated, "")
	case *waEvents.TemporaryBan:
		return closed(events.ReasonBanned, evt.String())
	case *waEvents.PairSuccess:
		return events.Batch{events.CredentialsUpdated{Address: evt.ID.String()}}
	case *waEvents.Message:
		return c.message(ctx, evt)
	case *waEvents.HistorySync:
		return events.Batch{c.history(evt)}
	case *waEvents.Receipt:
		return events.Batch{receipt(evt)}
	case *waEvents.Presence:
		state := "available"
		if evt.Unavailable {
			state = "unavailable"
		}
		return events.Batch{events.Presence{Chat: evt.From.String(), From: evt.From.String(), State: state, LastSeen: evt.LastSeen}}
	case *waEvents.ChatPresence:
		return events.Batch{events.Presence{Chat: evt.Chat.String(), From: evt.Sender.String(), State: string(evt.State)}}
	case *waEvents.Contact:
		return events.Batch{events.Contact{Address: evt.JID.String(), Name: evt.Action.GetFullName()}}
	case *waEvents.PushName:
		return events.Batch{events.Contact{Address: evt.JID.String(), Name: evt.NewPushName}}
	case *waEvents.Archive:
		return events.Batch{events.ChatUpdate{Chat: evt.JID.String(), Change: "archive", Value: evt.Action.GetArchived()}}
	case *waEvents.Pin:
		return events.Batch{events.ChatUpdate{Chat: evt.JID.String(), Change: "pin", Value: evt.Action.GetPinned()}}
	case *waEvents.Mute:
		return events.Batch{events.ChatUpdate{Chat: evt.JID.String(), Change: "mute", Value: evt.Action.GetMuted()}}
	case *waEvents.DeleteChat:
		return events.Batch{events.ChatDelete{Chat: evt.JID.String()}}
	case *waEvents.LabelEdit:
		return events.Batch{events.LabelEdit{LabelID: evt.LabelID, Name: evt.Action.GetName(), Deleted: evt.Action.GetDeleted()}}
	case *waEvents.LabelAssociationChat:
		return events.Batch{events.LabelAssociation{Chat: evt.JID.String(), LabelID: evt.LabelID, Labeled: evt.Action.GetLabeled()}}
	}
	return nil
}

func closed(reason events.DisconnectReason, detail string) events.Batch {
	return events.Batch{events.ConnectionUpdate{State: events.StateClosed, Reason: reason, Detail: detail}}
}

func (c *converter) message(ctx context.Context, evt *waEvents.Message) events.Batch {
	batch := events.Batch{events.MessagesUpsert{
		Type:     events.UpsertNotify,
		Messages: []events.Message{toMessage(evt)},
	}}
	if vote := c.pollVote(ctx, evt); vote != nil {
		batch = append(batch, *vote)
	}
	return batch
}

func (c *converter) pollVote(ctx context.Context, evt *waEvents.Message) *events.PollUpdate {
	update := evt.Message.GetPollUpdateMessage()
	if update == nil {
		return nil
	}
	decrypted, err := c.decryptVote(ctx, evt)
	if err != nil {
		c.log.Warn("failed to decrypt poll vote", zap.String("id", evt.Info.ID), zap.Error(err))
		return nil
	}
	key := update.GetPollCreationMessageKey()
	chat := key.GetRemoteJID()
	if chat == "" {
		chat = evt.Info.Chat.String()
	}
	return &events.PollUpdate{
		PollKey:        events.MessageKey{Chat: chat, ID: key.GetID(), FromMe: key.GetFromMe()},
		Voter:          evt.Info.Sender.String(),
		SelectedHashes: decrypted.GetSelectedOptions(),
		Timestamp:      evt.Info.Timestamp,
	}
}

func (c *converter) history(evt *waEvents.HistorySync) events.HistorySync {
	data := evt.Data
	out := events.HistorySync{
		SyncType: data.GetSyncType().String(),
		Chats:    len(data.GetConversations()),
		Progress: int(data.GetProgress()),
	}
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			c.log.Debug("skipping history chat", zap.String("chat", conv.GetID()), zap.Error(err))
			continue
		}
		if chat.User == "" || chat.Server == "" {
			c.log.Debug("skipping history chat", zap.String("chat", conv.GetID()), zap.String("reason", "empty address"))
			continue
		}
		for _, hm := range conv.GetMessages() {
			parsed, err := c.parseWeb(chat, hm.GetMessage())
			if err != nil {
				c.log.Debug("skipping history message", zap.String("chat", conv.GetID()), zap.Error(err))
				continue
			}
			out.Messages = append(out.Messages, toMessage(parsed))
		}
	}
	return out
}

func toMessage(evt *waEvents.Message) events.Message {
	msg := evt.Message
	out := events.Message{
		Key: events.MessageKey{
			Chat:   evt.Info.Chat.String(),
			ID:     evt.Info.ID,
			FromMe: evt.Info.IsFromMe,
		},
		Sender:    evt.Info.Sender.String(),
		PushName:  evt.Info.PushName,
		Text:      textOf(msg),
		Timestamp: evt.Info.Timestamp,
	}
	if p := pollCreationOf(msg); p != nil {
		poll := &events.PollCreation{Name: p.GetName(), SelectableCount: int(p.GetSelectableOptionsCount())}
		for _, opt := range p.GetOptions() {
			poll.Options = append(poll.Options, opt.GetOptionName())
		}
		out.Poll = poll
	}
	return out
}

func textOf(msg *waE2E.Message) string {
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

func pollCreationOf(msg *waE2E.Message) *waE2E.PollCreationMessage {
	switch {
	case msg.GetPollCreationMessage() != nil:
		return msg.GetPollCreationMessage()
	case msg.GetPollCreationMessageV2() != nil:
		return msg.GetPollCreationMessageV2()
	case msg.GetPollCreationMessageV3() != nil:
		return msg.GetPollCreationMessageV3()
	}
	return nil
}

func receipt(evt *waEvents.Receipt) events.MessageStatus {
	status := string(evt.Type)
	if status == "" {
		status = "delivered"
	}
	ids := make([]string, len(evt.MessageIDs))
	for i, id := range evt.MessageIDs {
		ids[i] = string(id)
	}
	return events.MessageStatus{
		Chat:      evt.Chat.String(),
		Sender:    evt.Sender.String(),
		IDs:       ids,
		Status:    status,
		Timestamp: evt.Timestamp,
	}
}
