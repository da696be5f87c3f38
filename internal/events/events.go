// Package events defines the records the protocol adapter hands to the
// dispatcher. Event is a closed set: every kind is a concrete struct in
// this package, so adding a kind is visible to every type switch that
// must handle it.
package events

import "time"

// Kind identifies the concrete type of an Event.
type Kind int

const (
	KindConnectionUpdate Kind = iota + 1
	KindCredentialsUpdated
	KindMessagesUpsert
	KindHistorySync
	KindMessageStatus
	KindPresence
	KindContact
	KindChatUpdate
	KindChatDelete
	KindLabelEdit
	KindLabelAssociation
	KindPollUpdate
)

var kindNames = map[Kind]string{
	KindConnectionUpdate:   "connection.update",
	KindCredentialsUpdated: "creds.update",
	KindMessagesUpsert:     "messages.upsert",
	KindHistorySync:        "messaging-history.set",
	KindMessageStatus:      "messages.update",
	KindPresence:           "presence.update",
	KindContact:            "contacts.update",
	KindChatUpdate:         "chats.update",
	KindChatDelete:         "chats.delete",
	KindLabelEdit:          "labels.edit",
	KindLabelAssociation:   "labels.association",
	KindPollUpdate:         "poll.update",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// Batch is the unit delivered to the dispatcher. Order within a batch is
// the order the adapter received the records.
type Batch []Event

// Kinds lists the kinds present in the batch, in order, with repeats.
func (b Batch) Kinds() []Kind {
	kinds := make([]Kind, 0, len(b))
	for _, ev := range b {
		kinds = append(kinds, ev.Kind())
	}
	return kinds
}

// ConnectionState is the coarse state reported by the protocol library.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "close"
	}
	return "unknown"
}

// DisconnectReason explains a closed connection. Only ReasonLoggedOut
// is permanent.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonConnectionLost
	ReasonConnectionReplaced
	ReasonConnectFailure
	ReasonClientOutdated
	ReasonBanned
	ReasonLoggedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection lost"
	case ReasonConnectionReplaced:
		return "connection replaced"
	case ReasonConnectFailure:
		return "connect failure"
	case ReasonClientOutdated:
		return "client outdated"
	case ReasonBanned:
		return "temporarily banned"
	case ReasonLoggedOut:
		return "logged out"
	}
	return "unknown"
}

// Permanent reports whether reconnecting is pointless.
func (r DisconnectReason) Permanent() bool { return r == ReasonLoggedOut }

// ConnectionUpdate reports a transition of the underlying connection.
type ConnectionUpdate struct {
	State  ConnectionState
	Reason DisconnectReason
	// Detail is free text from the library, for logs only.
	Detail string
}

// CredentialsUpdated signals that the credential state changed and must
// be persisted.
type CredentialsUpdated struct {
	// Address is the registered own address, empty before pairing.
	Address string
}

// MessageKey addresses one message.
type MessageKey struct {
	Chat   string `json:"remoteJid"`
	ID     string `json:"id"`
	FromMe bool   `json:"fromMe"`
}

// PollCreation is the definition carried by a poll message.
type PollCreation struct {
	Name            string   `json:"name"`
	Options         []string `json:"options"`
	SelectableCount int      `json:"selectableCount"`
}

// Message is an inbound or history message reduced to the fields the
// shell reads.
type Message struct {
	Key       MessageKey    `json:"key"`
	Sender    string        `json:"participant,omitempty"`
	PushName  string        `json:"pushName,omitempty"`
	Text      string        `json:"text,omitempty"`
	Timestamp time.Time     `json:"messageTimestamp"`
	Poll      *PollCreation `json:"poll,omitempty"`
}

// UpsertType distinguishes live messages from messages appended by a
// catch-up.
type UpsertType string

const (
	UpsertNotify UpsertType = "notify"
	UpsertAppend UpsertType = "append"
)

// MessagesUpsert carries newly received messages.
type MessagesUpsert struct {
	Type     UpsertType `json:"type"`
	Messages []Message  `json:"messages"`
}

// HistorySync carries one chunk of history transferred by the library.
type HistorySync struct {
	SyncType string
	Chats    int
	Progress int
	Messages []Message
}

// MessageStatus reports delivery/read receipts.
type MessageStatus struct {
	Chat      string
	Sender    string
	IDs       []string
	Status    string
	Timestamp time.Time
}

// Presence reports a peer's availability or chat state.
type Presence struct {
	Chat     string
	From     string
	State    string
	LastSeen time.Time
}

// Contact reports a changed contact entry or push name.
type Contact struct {
	Address string
	Name    string
}

// ChatUpdate reports a chat-level setting change (archive, pin, mute).
type ChatUpdate struct {
	Chat   string
	Change string
	Value  bool
}

// ChatDelete reports a deleted chat.
type ChatDelete struct {
	Chat string
}

// LabelEdit reports a created, renamed or deleted label.
type LabelEdit struct {
	LabelID string
	Name    string
	Deleted bool
}

// LabelAssociation reports a label being added to or removed from a chat.
type LabelAssociation struct {
	Chat    string
	LabelID string
	Labeled bool
}

// PollUpdate is one decrypted vote. SelectedHashes are the SHA-256
// option hashes chosen by the voter; an empty list retracts the vote.
type PollUpdate struct {
	PollKey        MessageKey
	Voter          string
	SelectedHashes [][]byte
	Timestamp      time.Time
}

func (ConnectionUpdate) Kind() Kind   { return KindConnectionUpdate }
func (CredentialsUpdated) Kind() Kind { return KindCredentialsUpdated }
func (MessagesUpsert) Kind() Kind     { return KindMessagesUpsert }
func (HistorySync) Kind() Kind        { return KindHistorySync }
func (MessageStatus) Kind() Kind      { return KindMessageStatus }
func (Presence) Kind() Kind           { return KindPresence }
func (Contact) Kind() Kind            { return KindContact }
func (ChatUpdate) Kind() Kind         { return KindChatUpdate }
func (ChatDelete) Kind() Kind         { return KindChatDelete }
func (LabelEdit) Kind() Kind          { return KindLabelEdit }
func (LabelAssociation) Kind() Kind   { return KindLabelAssociation }
func (PollUpdate) Kind() Kind         { return KindPollUpdate }

func (ConnectionUpdate) sealed()   {}
func (CredentialsUpdated) sealed() {}
func (MessagesUpsert) sealed()     {}
func (HistorySync) sealed()        {}
func (MessageStatus) sealed()      {}
func (Presence) sealed()           {}
func (Contact) sealed()            {}
func (ChatUpdate) sealed()         {}
func (ChatDelete) sealed()         {}
func (LabelEdit) sealed()          {}
func (LabelAssociation) sealed()   {}
func (PollUpdate) sealed()         {}
