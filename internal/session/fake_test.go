package session

import (
	"context"
	"sync"

	"github.com/MardaOneli/WaBot/internal/events"
	"github.com/MardaOneli/WaBot/internal/reply"
)

// fakeClient is a scripted Client.
type fakeClient struct {
	mu sync.Mutex

	registered bool
	address    string
	connectErr error
	qrErr      error
	pairCode   string
	pairErr    error

	events    chan events.Batch
	qr        chan string
	closeOnce sync.Once

	connects    int
	disconnects int
	qrCalls     int
	pairedPhone string
	calls       []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan events.Batch, 4), qr: make(chan string, 4)}
}

func (c *fakeClient) Events() <-chan events.Batch { return c.events }

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *fakeClient) IsRegistered() bool { return c.registered }
func (c *fakeClient) OwnAddress() string { return c.address }

func (c *fakeClient) QRCodes(context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qrCalls++
	if c.qrErr != nil {
		return nil, c.qrErr
	}
	return c.qr, nil
}

func (c *fakeClient) RequestPairingCode(_ context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairedPhone = phone
	return c.pairCode, c.pairErr
}

func (c *fakeClient) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return nil
}

func (c *fakeClient) SubscribePresence(_ context.Context, target string) error {
	return c.record("subscribe " + target)
}

func (c *fakeClient) SendChatPresence(_ context.Context, target string, state reply.ChatPresence) error {
	return c.record(string(state) + " " + target)
}

func (c *fakeClient) SendText(_ context.Context, target, text string) error {
	return c.record("send " + target + " " + text)
}

func (c *fakeClient) snapshot() (connects, disconnects int, calls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects, append([]string(nil), c.calls...)
}
