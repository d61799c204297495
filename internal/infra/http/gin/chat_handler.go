package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"opschat/internal/app/dto"
	chatsvc "opschat/internal/app/services/chat"
	domainchat "opschat/internal/domain/chat"
	domainuser "opschat/internal/domain/user"
)

// ChatHTTP exposes the conversation endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	OpenMyConversation(c *gin.Context)
	GetConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	SetStatus(c *gin.Context)
	SetMode(c *gin.Context)
	Delete(c *gin.Context)
}

type ChatHandler struct {
	Service  *chatsvc.Service
	Logger   *slog.Logger
	PageSize int
}

// ListConversations returns the roster: every thread for admins, the
// customer's own for everyone else.
func (h ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	customerID := principal.ID
	if principal.isAdmin() {
		customerID = strings.TrimSpace(c.Query("customer_id"))
	}
	conversations, err := h.Service.ListConversations(c.Request.Context(), customerID)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", principal.ID)
		return
	}
	collection := dto.ConversationList{Items: make([]dto.Conversation, 0, len(conversations))}
	for _, conv := range conversations {
		collection.Items = append(collection.Items, dto.FromConversation(conv))
	}
	c.JSON(http.StatusOK, collection)
}

// OpenMyConversation returns the caller's active thread, creating it on
// first contact.
func (h ChatHandler) OpenMyConversation(c *gin.Context) {
	principal, ok := requireRole(c, string(domainuser.RoleCustomer))
	if !ok {
		return
	}
	conv, err := h.Service.ConversationForCustomer(c.Request.Context(), principal.ID, principal.Name, principal.Email)
	if err != nil {
		h.respondChatError(c, err, "open conversation", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conv))
}

// GetConversation returns one roster row.
func (h ChatHandler) GetConversation(c *gin.Context) {
	_, conv, ok := h.loadAuthorized(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conv))
}

// ListMessages returns one history page, oldest to newest. A full page means
// older history may remain behind the before cursor.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, conv, ok := h.loadAuthorized(c)
	if !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), h.pageSize())
	before := strings.TrimSpace(c.Query("before"))

	messages, err := h.Service.ListMessages(c.Request.Context(), conv.ID, limit, before)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conv.ID, "user_id", principal.ID)
		return
	}
	collection := dto.ChatMessageList{Items: make([]dto.ChatMessage, 0, len(messages))}
	for _, msg := range messages {
		collection.Items = append(collection.Items, dto.FromMessage(msg))
	}
	c.JSON(http.StatusOK, collection)
}

// SendMessage posts one message to the conversation.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, conv, ok := h.loadAuthorized(c)
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	kind, err := domainchat.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message kind"})
		return
	}
	if req.AttachmentURL != "" && kind == domainchat.KindText {
		kind = domainchat.KindFile
	}

	message, err := h.Service.SendMessage(c.Request.Context(), conv.ID, chatsvc.SendParams{
		SenderID:       principal.ID,
		Body:           req.Body,
		Kind:           kind,
		AttachmentURL:  req.AttachmentURL,
		AttachmentName: req.AttachmentName,
		AttachmentSize: req.AttachmentSize,
		AgentSide:      principal.isAdmin(),
	})
	if err != nil {
		if errors.Is(err, chatsvc.ErrBodyRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
			return
		}
		h.respondChatError(c, err, "send message", "conversation_id", conv.ID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.FromMessage(*message))
}

// MarkRead acknowledges every unread customer message in the thread.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireRole(c, string(domainuser.RoleAdmin))
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	stamped, err := h.Service.MarkAllRead(c.Request.Context(), conversationID)
	if err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": stamped})
}

// SetStatus moves the thread between active, resolved and archived.
func (h ChatHandler) SetStatus(c *gin.Context) {
	principal, ok := requireRole(c, string(domainuser.RoleAdmin))
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	status, err := domainchat.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	conv, err := h.Service.SetStatus(c.Request.Context(), conversationID, status)
	if err != nil {
		h.respondChatError(c, err, "set status", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conv))
}

// SetMode switches the thread between the automated agent and a human.
func (h ChatHandler) SetMode(c *gin.Context) {
	principal, ok := requireRole(c, string(domainuser.RoleAdmin))
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	mode, err := domainchat.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}
	conv, err := h.Service.SetMode(c.Request.Context(), conversationID, mode)
	if err != nil {
		h.respondChatError(c, err, "set mode", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conv))
}

// Delete removes the thread and its message history.
func (h ChatHandler) Delete(c *gin.Context) {
	principal, ok := requireRole(c, string(domainuser.RoleAdmin))
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := h.Service.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		h.respondChatError(c, err, "delete conversation", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// loadAuthorized resolves the conversation and checks the caller may see it:
// admins see everything, customers only their own thread.
func (h ChatHandler) loadAuthorized(c *gin.Context) (principal, domainchat.Conversation, bool) {
	p, ok := requireRole(c, "")
	if !ok {
		return principal{}, domainchat.Conversation{}, false
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return principal{}, domainchat.Conversation{}, false
	}
	conv, err := h.Service.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", conversationID, "user_id", p.ID)
		return principal{}, domainchat.Conversation{}, false
	}
	if !p.isAdmin() && conv.CustomerID != p.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your conversation"})
		return principal{}, domainchat.Conversation{}, false
	}
	return p, conv, true
}

func (h ChatHandler) pageSize() int {
	if h.PageSize > 0 {
		return h.PageSize
	}
	return domainchat.DefaultPageSize
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrConversationGone):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, domainchat.ErrMessageGone):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, domainchat.ErrInvalidKind),
		errors.Is(err, domainchat.ErrInvalidStatus),
		errors.Is(err, domainchat.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
