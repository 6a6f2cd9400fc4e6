package delivery

import (
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// handleConversationHistory returns every conversation with its last
// message, most recently active first. POST for parity with the admin UI's
// existing contract.
func (s *Server) handleConversationHistory(c *fiber.Ctx) error {
	conversations, err := s.store.ListConversations(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch conversation history",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    conversations,
	})
}

// handleConversationMessages returns a conversation's messages in creation
// order and flags its guest messages seen, best effort.
func (s *Server) handleConversationMessages(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("conversation_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid conversation ID",
			"error":   err.Error(),
		})
	}

	messages, err := s.store.ListMessages(c.Context(), conversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch messages",
			"error":   err.Error(),
		})
	}

	if err := s.store.MarkMessagesSeen(c.Context(), conversationID); err != nil {
		log.Printf("Failed to mark messages seen for %s: %v", conversationID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    messages,
	})
}

// handleOnlineAdmins reports admins online across the cluster from the
// shared Redis hash, falling back to this node's registry when Redis is
// absent or unreachable.
func (s *Server) handleOnlineAdmins(c *fiber.Ctx) error {
	if s.redis != nil {
		admins, err := s.redis.GetOnlineAdmins(c.Context())
		if err == nil {
			sort.Strings(admins)
			return c.JSON(fiber.Map{
				"success": true,
				"data":    admins,
			})
		}
		log.Printf("Failed to fetch online admins from Redis: %v", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    s.registry.OnlineAdmins(),
	})
}
