package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"livechat-server/internal/domain"
	"livechat-server/internal/router"
	"livechat-server/internal/store"
)

// HandleConnection owns one websocket session: registers the connection,
// pumps inbound events through the router, and tears presence down on exit.
func (s *Server) HandleConnection(c *websocket.Conn) {
	defer c.Close()

	ctx := context.Background()
	conn := NewConnection(uuid.New().String(), c)
	s.hub.Register(conn)

	defer func() {
		s.hub.Remove(conn.ID)
		s.dispatch(ctx, s.router.HandleDisconnect(ctx, conn.ID))
		log.Printf("Connection %s closed", conn.ID)
	}()

	if err := conn.Send(domain.EventConnectionEstablished, map[string]interface{}{
		"connectionId": conn.ID,
		"timestamp":    time.Now().Format(time.RFC3339),
	}); err != nil {
		log.Printf("Failed to send welcome to %s: %v", conn.ID, err)
		return
	}

	for {
		var ev domain.WSEvent
		if err := c.ReadJSON(&ev); err != nil {
			log.Printf("WebSocket read error on %s: %v", conn.ID, err)
			break
		}
		s.handleEvent(ctx, conn, &ev)
	}
}

func (s *Server) handleEvent(ctx context.Context, conn *Connection, ev *domain.WSEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling %s on %s: %v", ev.Event, conn.ID, r)
		}
	}()

	switch ev.Event {
	case domain.EventGuestJoin:
		var p domain.GuestJoinPayload
		if !s.decode(conn, ev, &p) {
			return
		}
		if p.GuestID == "" {
			s.sendError(conn, "guestId is required")
			return
		}
		s.hub.Subscribe(router.GuestChannel(p.GuestID), conn)
		log.Printf("Guest %s joined on connection %s", p.GuestID, conn.ID)

	case domain.EventAdminJoin:
		var p domain.AdminJoinPayload
		if !s.decode(conn, ev, &p) {
			return
		}
		if p.AdminID == "" {
			s.sendError(conn, "adminId is required")
			return
		}
		s.hub.Subscribe(router.ChannelAdmins, conn)
		s.hub.Subscribe(router.AdminChannel(p.AdminID), conn)
		s.dispatch(ctx, s.router.HandleAdminJoin(ctx, p.AdminID, conn.ID))
		log.Printf("Admin %s joined on connection %s", p.AdminID, conn.ID)

	case domain.EventGuestMessage:
		var p domain.GuestMessagePayload
		if !s.decode(conn, ev, &p) {
			return
		}
		_, deliveries, err := s.router.HandleGuestMessage(ctx, p)
		if err != nil {
			log.Printf("Guest message from %s failed: %v", p.GuestID, err)
			s.sendError(conn, err.Error())
			return
		}
		s.dispatch(ctx, deliveries)

	case domain.EventAdminMessage:
		var p domain.AdminMessagePayload
		if !s.decode(conn, ev, &p) {
			return
		}
		_, deliveries, err := s.router.HandleAdminMessage(ctx, p)
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(conn, "conversation not found")
			return
		}
		if err != nil {
			log.Printf("Admin message from %s failed: %v", p.AdminID, err)
			s.sendError(conn, err.Error())
			return
		}
		s.dispatch(ctx, deliveries)

	case domain.EventAssignConversation:
		var p domain.AssignConversationPayload
		if !s.decode(conn, ev, &p) {
			return
		}
		conv, deliveries, err := s.router.HandleAssign(ctx, p)
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(conn, "conversation not found")
			return
		}
		if err != nil {
			log.Printf("Assign %s by %s failed: %v", p.ConversationID, p.AdminID, err)
			s.sendError(conn, err.Error())
			return
		}
		if conv == nil {
			// Lost the claim race: no echo, by contract.
			return
		}
		s.hub.Subscribe(router.ConversationChannel(conv.ID), conn)
		s.dispatch(ctx, deliveries)
		log.Printf("Conversation %s assigned to admin %s", conv.ID, p.AdminID)

	case domain.EventCloseConversation:
		var p domain.CloseConversationPayload
		if !s.decode(conn, ev, &p) {
			return
		}
		_, deliveries, err := s.router.HandleClose(ctx, p)
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(conn, "conversation not found")
			return
		}
		if err != nil {
			log.Printf("Close %s by %s failed: %v", p.ConversationID, p.AdminID, err)
			s.sendError(conn, err.Error())
			return
		}
		s.dispatch(ctx, deliveries)
		log.Printf("Conversation %s closed by admin %s", p.ConversationID, p.AdminID)

	case domain.EventConversationRead:
		var p domain.ConversationReadPayload
		if !s.decode(conn, ev, &p) {
			return
		}
		s.dispatch(ctx, s.router.HandleRead(p, conn.ID))

	default:
		log.Printf("Unknown event %q on connection %s", ev.Event, conn.ID)
		s.sendError(conn, "unknown event: "+ev.Event)
	}
}

func (s *Server) decode(conn *Connection, ev *domain.WSEvent, out interface{}) bool {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		s.sendError(conn, "malformed payload for "+ev.Event)
		return false
	}
	return true
}

func (s *Server) sendError(conn *Connection, message string) {
	if err := conn.Send(domain.EventError, map[string]interface{}{"message": message}); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.ID, err)
	}
}

// dispatch applies deliveries to the local hub and relays them to other
// nodes. Persistence has already happened by the time deliveries exist, so
// a relay failure costs cross-node delivery only, never durability.
func (s *Server) dispatch(ctx context.Context, deliveries []router.Delivery) {
	for _, d := range deliveries {
		s.hub.Emit(d)

		if s.producer == nil {
			continue
		}

		payload, err := json.Marshal(d.Payload)
		if err != nil {
			log.Printf("Failed to marshal relay payload for %s: %v", d.Event, err)
			continue
		}

		relay := domain.RelayEvent{
			NodeID:    s.nodeID,
			Channels:  d.Channels,
			Event:     d.Event,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		}
		if err := s.producer.SendMessage(ctx, relay); err != nil {
			log.Printf("Failed to relay %s: %v", d.Event, err)
		}

		if p, ok := d.Payload.(domain.AdminPresencePayload); ok {
			status := domain.PresenceStatusMessage{
				NodeID:    s.nodeID,
				AdminID:   p.AdminID,
				Online:    p.Online,
				Timestamp: time.Now().UTC(),
			}
			if err := s.producer.SendMessage(ctx, status); err != nil {
				log.Printf("Failed to publish presence status for %s: %v", p.AdminID, err)
			}
		}
	}
}

// HandleRelayEvent replays a fan-out decision made on another node against
// the local hub. Events originating here were already applied locally.
func (s *Server) HandleRelayEvent(ev domain.RelayEvent) {
	if ev.NodeID == s.nodeID {
		return
	}
	s.hub.Emit(router.Delivery{
		Channels: ev.Channels,
		Event:    ev.Event,
		Payload:  ev.Payload,
	})
}

// HandlePresenceStatus observes presence transitions from other nodes. The
// Redis mirror is already updated by the origin node.
func (s *Server) HandlePresenceStatus(msg domain.PresenceStatusMessage) {
	if msg.NodeID == s.nodeID {
		return
	}
	log.Printf("Admin %s went %s on node %s", msg.AdminID,
		map[bool]string{true: "online", false: "offline"}[msg.Online], msg.NodeID)
}
