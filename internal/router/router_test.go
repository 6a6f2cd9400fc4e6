package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-server/internal/domain"
	"livechat-server/internal/presence"
	"livechat-server/internal/store"
)

func newTestRouter() (*Router, *store.MemoryStore, *presence.Registry) {
	s := store.NewMemoryStore()
	registry := presence.NewRegistry(nil)
	return New(s, registry), s, registry
}

func guestText(guestID, content string) domain.GuestMessagePayload {
	return domain.GuestMessagePayload{
		GuestID:     guestID,
		Content:     content,
		MessageType: domain.MessageTypeText,
	}
}

func TestGuestMessage_UnassignedBroadcastsToAdmins(t *testing.T) {
	r, s, _ := newTestRouter()
	ctx := context.Background()

	msg, deliveries, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	assert.Equal(t, []string{ChannelAdmins}, d.Channels)
	assert.Equal(t, domain.EventNewMessage, d.Event)

	broadcast, ok := d.Payload.(domain.UnassignedMessageBroadcast)
	require.True(t, ok, "unassigned fan-out carries the conversation id and guest id")
	assert.Equal(t, "g1", broadcast.GuestID)
	assert.Equal(t, msg.ConversationID, broadcast.ConversationID)
	assert.Equal(t, "hello", broadcast.Message.Content)

	// Durable even with zero admins online.
	stored, err := s.ListMessages(ctx, msg.ConversationID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestGuestMessage_ReusesConversation(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()

	first, _, err := r.HandleGuestMessage(ctx, guestText("g1", "one"))
	require.NoError(t, err)
	second, _, err := r.HandleGuestMessage(ctx, guestText("g1", "two"))
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID,
		"a second message from the same guest must land in the same conversation")
}

func TestGuestMessage_AssignedDeliversToClaimingAdminOnly(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()

	msg, _, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)

	conv, _, err := r.HandleAssign(ctx, domain.AssignConversationPayload{
		ConversationID: msg.ConversationID,
		AdminID:        "a1",
	})
	require.NoError(t, err)
	require.NotNil(t, conv)

	followUp, deliveries, err := r.HandleGuestMessage(ctx, guestText("g1", "follow-up"))
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	assert.ElementsMatch(t, []string{
		ConversationChannel(conv.ID),
		AdminChannel("a1"),
	}, d.Channels)
	assert.NotContains(t, d.Channels, ChannelAdmins,
		"assigned conversations must not broadcast to all admins")
	assert.Equal(t, domain.EventNewMessage, d.Event)

	delivered, ok := d.Payload.(*domain.Message)
	require.True(t, ok)
	assert.Equal(t, followUp.ID, delivered.ID)
}

func TestGuestMessage_Validation(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()

	_, _, err := r.HandleGuestMessage(ctx, guestText("g1", ""))
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, _, err = r.HandleGuestMessage(ctx, domain.GuestMessagePayload{
		GuestID:     "g1",
		Content:     "https://cdn.example/pic.png",
		MessageType: domain.MessageTypeImage,
	})
	assert.ErrorIs(t, err, ErrMissingAttachment)

	_, _, err = r.HandleGuestMessage(ctx, domain.GuestMessagePayload{
		GuestID:     "g1",
		Content:     "x",
		MessageType: "video",
	})
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestGuestMessage_DefaultsToText(t *testing.T) {
	r, _, _ := newTestRouter()

	msg, _, err := r.HandleGuestMessage(context.Background(), domain.GuestMessagePayload{
		GuestID: "g1",
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeText, msg.MessageType)
	assert.Nil(t, msg.FileName)
	assert.Nil(t, msg.FileSize)
}

func TestGuestMessage_AttachmentFields(t *testing.T) {
	r, _, _ := newTestRouter()

	name := "report.pdf"
	size := int64(52341)
	msg, _, err := r.HandleGuestMessage(context.Background(), domain.GuestMessagePayload{
		GuestID:     "g1",
		Content:     "https://cdn.example/report.pdf",
		MessageType: domain.MessageTypeDocument,
		FileName:    &name,
		FileSize:    &size,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.FileName)
	assert.Equal(t, name, *msg.FileName)
	require.NotNil(t, msg.FileSize)
	assert.Equal(t, size, *msg.FileSize)
}

func TestGuestMessage_PersistenceFailureProducesNoDeliveries(t *testing.T) {
	r, s, _ := newTestRouter()

	s.FailNextAppend(errors.New("storage down"))

	_, deliveries, err := r.HandleGuestMessage(context.Background(), guestText("g1", "hello"))
	assert.Error(t, err)
	assert.Empty(t, deliveries, "persistence happens before fan-out")
}

func TestAdminMessage_DeliversToGuestAndObservers(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()

	guestMsg, _, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)

	reply, deliveries, err := r.HandleAdminMessage(ctx, domain.AdminMessagePayload{
		ConversationID: guestMsg.ConversationID,
		AdminID:        "a1",
		Content:        "hi, how can I help?",
		MessageType:    domain.MessageTypeText,
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	assert.Equal(t, domain.SenderAdmin, reply.SenderType)
	assert.Equal(t, "a1", reply.SenderID)

	d := deliveries[0]
	assert.ElementsMatch(t, []string{
		GuestChannel("g1"),
		ConversationChannel(guestMsg.ConversationID),
		AdminChannel("a1"),
	}, d.Channels)
	assert.Equal(t, domain.EventAdminMessage, d.Event)
}

func TestAdminMessage_UnknownConversation(t *testing.T) {
	r, s, _ := newTestRouter()
	ctx := context.Background()

	missing := uuid.New()
	_, deliveries, err := r.HandleAdminMessage(ctx, domain.AdminMessagePayload{
		ConversationID: missing,
		AdminID:        "a1",
		Content:        "anyone there?",
		MessageType:    domain.MessageTypeText,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, deliveries)

	stored, err := s.ListMessages(ctx, missing)
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing is persisted for an unknown conversation")
}

func TestAssign_WinnerEchoLoserSilence(t *testing.T) {
	r, _, _ := newTestRouter()
	ctx := context.Background()

	msg, _, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)

	conv, deliveries, err := r.HandleAssign(ctx, domain.AssignConversationPayload{
		ConversationID: msg.ConversationID, AdminID: "a1",
	})
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, deliveries, 1)
	assert.Equal(t, []string{ChannelAdmins}, deliveries[0].Channels)
	assert.Equal(t, domain.EventConversationAssigned, deliveries[0].Event)
	assert.Equal(t, "a1", *conv.AssignedAdmin)

	// Second claim: defined no-op, no echo, no error.
	conv2, deliveries2, err := r.HandleAssign(ctx, domain.AssignConversationPayload{
		ConversationID: msg.ConversationID, AdminID: "a2",
	})
	assert.NoError(t, err)
	assert.Nil(t, conv2)
	assert.Empty(t, deliveries2)
}

func TestAssign_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	r, s, _ := newTestRouter()
	ctx := context.Background()

	msg, _, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)

	const claimers = 10
	echoes := make(chan string, claimers)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		adminID := "admin-" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			conv, deliveries, err := r.HandleAssign(ctx, domain.AssignConversationPayload{
				ConversationID: msg.ConversationID, AdminID: adminID,
			})
			assert.NoError(t, err)
			if conv != nil {
				assert.Len(t, deliveries, 1)
				echoes <- adminID
			} else {
				assert.Empty(t, deliveries)
			}
		}()
	}
	wg.Wait()
	close(echoes)

	var winners []string
	for w := range echoes {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one admin receives the assigned echo")

	got, err := s.GetConversation(ctx, msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *got.AssignedAdmin)
}

func TestAssign_UnknownConversation(t *testing.T) {
	r, _, _ := newTestRouter()

	_, _, err := r.HandleAssign(context.Background(), domain.AssignConversationPayload{
		ConversationID: uuid.New(), AdminID: "a1",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClose_NotifiesObservers(t *testing.T) {
	r, s, _ := newTestRouter()
	ctx := context.Background()

	msg, _, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)

	conv, deliveries, err := r.HandleClose(ctx, domain.CloseConversationPayload{
		ConversationID: msg.ConversationID, AdminID: "a1",
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	assert.Equal(t, []string{ConversationChannel(conv.ID)}, deliveries[0].Channels)
	assert.Equal(t, domain.EventConversationClosed, deliveries[0].Event)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
}

func TestRead_ExcludesOriginatingConnection(t *testing.T) {
	r, _, _ := newTestRouter()

	p := domain.ConversationReadPayload{ConversationID: uuid.New(), AdminID: "a1"}
	deliveries := r.HandleRead(p, "conn-origin")

	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.Equal(t, []string{ChannelAdmins}, d.Channels)
	assert.Equal(t, domain.EventConversationRead, d.Event)
	assert.Equal(t, "conn-origin", d.ExcludeConnection)
	assert.Equal(t, p, d.Payload)
}

func TestAdminJoin_PresenceEdgeOnly(t *testing.T) {
	r, _, registry := newTestRouter()
	ctx := context.Background()

	deliveries := r.HandleAdminJoin(ctx, "a1", "tab-1")
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.EventAdminOnline, deliveries[0].Event)

	// Second tab: already online, nothing to announce.
	deliveries = r.HandleAdminJoin(ctx, "a1", "tab-2")
	assert.Empty(t, deliveries)
	assert.True(t, registry.IsOnline("a1"))
}

func TestDisconnect_MultiTab(t *testing.T) {
	r, _, registry := newTestRouter()
	ctx := context.Background()

	r.HandleAdminJoin(ctx, "a1", "tab-1")
	r.HandleAdminJoin(ctx, "a1", "tab-2")

	deliveries := r.HandleDisconnect(ctx, "tab-1")
	assert.Empty(t, deliveries, "admin with a surviving tab stays online")
	assert.True(t, registry.IsOnline("a1"))

	deliveries = r.HandleDisconnect(ctx, "tab-2")
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.EventAdminOffline, deliveries[0].Event)
	assert.False(t, registry.IsOnline("a1"))
}

func TestDisconnect_GuestConnectionIsSilent(t *testing.T) {
	r, _, _ := newTestRouter()

	deliveries := r.HandleDisconnect(context.Background(), "guest-socket")
	assert.Empty(t, deliveries)
}

// Full lifecycle: guest writes with nobody online, an admin comes online,
// reviews history, claims the thread and the follow-up reaches only them.
func TestScenario_ClaimThenTargetedDelivery(t *testing.T) {
	r, s, _ := newTestRouter()
	ctx := context.Background()

	// Guest writes while zero admins are online.
	msg, deliveries, err := r.HandleGuestMessage(ctx, guestText("g1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{ChannelAdmins}, deliveries[0].Channels)

	conv, err := s.GetConversation(ctx, msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, conv.Status)
	assert.Nil(t, conv.AssignedAdmin)

	// a1 connects and fetches history.
	r.HandleAdminJoin(ctx, "a1", "a1-tab")
	r.HandleAdminJoin(ctx, "a2", "a2-tab")

	history, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].LastMessage)
	assert.Equal(t, "hello", history[0].LastMessage.Content)

	// a1 claims it.
	claimed, _, err := r.HandleAssign(ctx, domain.AssignConversationPayload{
		ConversationID: conv.ID, AdminID: "a1",
	})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Follow-up goes to a1's channels only; a2 is not addressed.
	_, deliveries, err = r.HandleGuestMessage(ctx, guestText("g1", "follow-up"))
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.ElementsMatch(t, []string{
		ConversationChannel(conv.ID),
		AdminChannel("a1"),
	}, deliveries[0].Channels)
	assert.NotContains(t, deliveries[0].Channels, AdminChannel("a2"))
	assert.NotContains(t, deliveries[0].Channels, ChannelAdmins)
}
