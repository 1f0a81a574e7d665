package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"telemed-chat-service/internal/repositories"
)

// ChatHandler serves the chat REST endpoints consumed by the chat widget.
type ChatHandler struct {
	messages repositories.MessageRepository
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(messages repositories.MessageRepository) *ChatHandler {
	return &ChatHandler{messages: messages}
}

// GetChatHistory returns the full conversation between two users, oldest
// first. The pair is unordered; both parameter orders return the same list.
func (h *ChatHandler) GetChatHistory(c *gin.Context) {
	userID1 := c.Param("userId1")
	userID2 := c.Param("userId2")
	if userID1 == "" || userID2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "both user ids are required"})
		return
	}

	msgs, err := h.messages.History(c.Request.Context(), userID1, userID2)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat history"})
		return
	}

	c.JSON(http.StatusOK, msgs)
}

// MarkAsRead flags every unread message from senderId to receiverId as read.
func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	var req struct {
		SenderID   string `json:"senderId" binding:"required"`
		ReceiverID string `json:"receiverId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.messages.MarkRead(c.Request.Context(), req.SenderID, req.ReceiverID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update read status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Messages marked as read"})
}

// GetUnreadCounts returns unread message counts for a user grouped by sender.
// Recomputed from the store on every call; senders with nothing unread are
// absent from the response.
func (h *ChatHandler) GetUnreadCounts(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}

	counts, err := h.messages.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}

	c.JSON(http.StatusOK, counts)
}
