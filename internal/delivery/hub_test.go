package delivery

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-server/internal/domain"
	"livechat-server/internal/router"
)

type fakeWriter struct {
	mu      sync.Mutex
	events  []domain.WSResponse
	failErr error
}

func (f *fakeWriter) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.events = append(f.events, v.(domain.WSResponse))
	return nil
}

func (f *fakeWriter) received() []domain.WSResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WSResponse, len(f.events))
	copy(out, f.events)
	return out
}

func addConn(t *testing.T, h *Hub, id string, channels ...string) (*Connection, *fakeWriter) {
	t.Helper()
	w := &fakeWriter{}
	conn := NewConnection(id, w)
	h.Register(conn)
	for _, ch := range channels {
		h.Subscribe(ch, conn)
	}
	return conn, w
}

func TestEmit_ReachesChannelMembersOnly(t *testing.T) {
	h := NewHub()
	_, admin := addConn(t, h, "c1", router.ChannelAdmins)
	_, guest := addConn(t, h, "c2", router.GuestChannel("g1"))

	sent := h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})

	assert.Equal(t, 1, sent)
	require.Len(t, admin.received(), 1)
	assert.Equal(t, domain.EventNewMessage, admin.received()[0].Event)
	assert.Empty(t, guest.received())
}

func TestEmit_DeduplicatesAcrossChannelUnion(t *testing.T) {
	h := NewHub()
	// One tab subscribed both to its admin channel and a conversation
	// channel, the way a claiming admin's connection ends up.
	_, w := addConn(t, h, "c1", router.AdminChannel("a1"), "conversation:x")

	sent := h.Emit(router.Delivery{
		Channels: []string{router.AdminChannel("a1"), "conversation:x"},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})

	assert.Equal(t, 1, sent)
	assert.Len(t, w.received(), 1, "a connection in both channels gets the event once")
}

func TestEmit_ExcludesConnection(t *testing.T) {
	h := NewHub()
	_, origin := addConn(t, h, "origin", router.ChannelAdmins)
	_, other := addConn(t, h, "other", router.ChannelAdmins)

	sent := h.Emit(router.Delivery{
		Channels:          []string{router.ChannelAdmins},
		Event:             domain.EventConversationRead,
		Payload:           "payload",
		ExcludeConnection: "origin",
	})

	assert.Equal(t, 1, sent)
	assert.Empty(t, origin.received(), "originating connection must not get its own echo")
	assert.Len(t, other.received(), 1)
}

func TestEmit_PrunesDeadConnections(t *testing.T) {
	h := NewHub()
	w := &fakeWriter{failErr: errors.New("broken pipe")}
	conn := NewConnection("dead", w)
	h.Register(conn)
	h.Subscribe(router.ChannelAdmins, conn)
	addConn(t, h, "alive", router.ChannelAdmins)

	sent := h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, h.ConnectionCount(), "failed write removes the connection")

	// Dead connection no longer addressed.
	sent = h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})
	assert.Equal(t, 1, sent)
}

type panicWriter struct{}

func (panicWriter) WriteJSON(interface{}) error {
	panic("repeated read on failed websocket connection")
}

func TestEmit_PrunesPanickingConnections(t *testing.T) {
	h := NewHub()
	conn := NewConnection("torn", panicWriter{})
	h.Register(conn)
	h.Subscribe(router.ChannelAdmins, conn)
	_, alive := addConn(t, h, "alive", router.ChannelAdmins)

	sent := h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})

	assert.Equal(t, 1, sent)
	assert.Len(t, alive.received(), 1)
	assert.Equal(t, 1, h.ConnectionCount(), "panicking write removes the connection")
}

func TestEmit_EmptyChannels(t *testing.T) {
	h := NewHub()

	sent := h.Emit(router.Delivery{
		Channels: []string{"conversation:none"},
		Event:    domain.EventConversationClosed,
		Payload:  "payload",
	})
	assert.Zero(t, sent)
}

func TestRemove_CleansAllMemberships(t *testing.T) {
	h := NewHub()
	conn, _ := addConn(t, h, "c1", router.ChannelAdmins, router.AdminChannel("a1"), "conversation:x")
	_, other := addConn(t, h, "c2", router.ChannelAdmins)

	h.Remove(conn.ID)
	assert.Equal(t, 1, h.ConnectionCount())

	sent := h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins, router.AdminChannel("a1"), "conversation:x"},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})
	assert.Equal(t, 1, sent)
	assert.Len(t, other.received(), 1)
}

func TestSubscribe_UnregisteredConnectionIgnored(t *testing.T) {
	h := NewHub()
	conn := NewConnection("ghost", &fakeWriter{})

	h.Subscribe(router.ChannelAdmins, conn)

	sent := h.Emit(router.Delivery{
		Channels: []string{router.ChannelAdmins},
		Event:    domain.EventNewMessage,
		Payload:  "payload",
	})
	assert.Zero(t, sent)
}

func TestConnectionSend(t *testing.T) {
	w := &fakeWriter{}
	conn := NewConnection("c1", w)

	require.NoError(t, conn.Send(domain.EventConnectionEstablished, map[string]string{"connectionId": "c1"}))
	require.Len(t, w.received(), 1)
	assert.Equal(t, domain.EventConnectionEstablished, w.received()[0].Event)
}
