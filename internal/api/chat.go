package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamchat/internal/conversation"
	"streamchat/internal/models"
	"streamchat/internal/orchestrator"
	"streamchat/internal/prompt"
	"streamchat/internal/provider"
	"streamchat/internal/resumable"
	"streamchat/internal/service/chat"
	"streamchat/internal/sse"
	"streamchat/internal/worker"
)

const (
	quotaWindow       = 24 * time.Hour
	resumeGraceWindow = 15 * time.Second
)

func (h *Handler) postChat(c *gin.Context) {
	var req postChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := h.chats.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		h.internalError(c, "load user", err)
		return
	}
	rule := h.entitlements.For(user.Type)
	sent, err := h.chats.CountUserMessagesSince(ctx, userID, h.now().Add(-quotaWindow))
	if err != nil {
		h.internalError(c, "count messages", err)
		return
	}
	if sent >= rule.MaxMessagesPerDay {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily message limit reached"})
		return
	}
	if !rule.Allows(req.SelectedChatModel) {
		c.JSON(http.StatusForbidden, gin.H{"error": "model not available for this account"})
		return
	}

	msg := req.Message.toMessage(req.ID, h.now())
	ch, err := h.chats.GetChatByID(ctx, req.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ch, err = h.createChat(ctx, userID, req, msg); err != nil {
			h.internalError(c, "create chat", err)
			return
		}
	case err != nil:
		h.internalError(c, "load chat", err)
		return
	case ch.UserID != userID:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	history, err := h.chats.GetMessagesByChatID(ctx, ch.ID)
	if err != nil {
		h.internalError(c, "load history", err)
		return
	}
	if err := h.chats.SaveMessages(ctx, msg); err != nil {
		h.internalError(c, "save user message", err)
		return
	}
	h.events.MessageCreated(ctx, msg)

	handle := h.resolver.Resolve(ctx, req.SelectedChatModel, msg)
	run := orchestrator.Request{
		UserID:    userID,
		ChatID:    ch.ID,
		MessageID: uuid.NewString(),
		Handle:    handle,
		System: h.prompts.Build(ctx, prompt.Request{
			Hints:     prompt.HintsFromHeaders(c.Request.Header),
			PersonaID: req.SelectedPersonaID,
			Tools:     !provider.IsReasoning(req.SelectedChatModel),
		}),
		Transcript: conversation.Assemble(history, msg),
	}

	streamID := uuid.NewString()
	if err := h.chats.CreateStreamID(ctx, streamID, ch.ID); err != nil {
		h.internalError(c, "record stream", err)
		return
	}

	streams := h.streams.Get()
	if streams == nil {
		h.streamDirect(c, run)
		return
	}
	reader, err := streams.Wrap(ctx, userID, streamID, func(ctx context.Context, out sse.Appender) error {
		return h.orchestrator.Run(ctx, run, sse.NewEmitter(out))
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is busy, please retry"})
			return
		}
		h.internalError(c, "start stream", err)
		return
	}
	h.pipe(c, reader)
}

func (h *Handler) createChat(ctx context.Context, userID int64, req postChatRequest, first *models.Message) (*models.Chat, error) {
	title, err := chat.GenerateTitle(ctx, h.titleModel, first)
	if err != nil {
		h.log.Warn("title generation failed, using message text", zap.String("chat_id", req.ID), zap.Error(err))
	}
	ch := &models.Chat{
		ID:         req.ID,
		UserID:     userID,
		Title:      title,
		Visibility: models.Visibility(req.SelectedVisibilityType),
		CreatedAt:  h.now().UTC(),
	}
	if err := h.chats.SaveChat(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// streamDirect runs the orchestrator on the request goroutine. It is used
// when streams cannot be resumed.
func (h *Handler) streamDirect(c *gin.Context, run orchestrator.Request) {
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.internalError(c, "open stream", err)
		return
	}
	c.Status(http.StatusOK)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamTimeout)
	defer cancel()
	if err := h.orchestrator.Run(ctx, run, sse.NewEmitter(w)); err != nil {
		h.log.Debug("stream ended with error", zap.String("chat_id", run.ChatID), zap.Error(err))
	}
}

// pipe relays frames to the client until the reader ends or the client
// goes away.
func (h *Handler) pipe(c *gin.Context, reader resumable.Reader) {
	defer reader.Close()
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.internalError(c, "open stream", err)
		return
	}
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	ctx := c.Request.Context()
	for {
		frame, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				h.log.Warn("read stream", zap.Error(err))
			}
			return
		}
		if err := w.WriteFrame(frame.Seq, frame.Data); err != nil {
			return
		}
	}
}

func (h *Handler) resumeChat(c *gin.Context) {
	chatID := c.Query("chatId")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	streams := h.streams.Get()
	if streams == nil {
		c.Status(http.StatusNoContent)
		return
	}
	ctx := c.Request.Context()

	ch, err := h.chats.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		h.internalError(c, "load chat", err)
		return
	}
	if !canRead(ch, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	streamIDs, err := h.chats.GetStreamIDsByChatID(ctx, chatID)
	if err != nil {
		h.internalError(c, "list streams", err)
		return
	}
	if len(streamIDs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no streams found"})
		return
	}
	latest := streamIDs[len(streamIDs)-1]

	after := int64(-1)
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			after = n
		}
	}
	reconstruct := func() resumable.Reader { return h.reconstruct(ctx, chatID) }
	reader, err := streams.Resume(ctx, latest, after, reconstruct)
	if errors.Is(err, resumable.ErrStreamFinished) {
		reader, err = reconstruct(), nil
	}
	if err != nil {
		h.internalError(c, "resume stream", err)
		return
	}
	h.pipe(c, reader)
}

// reconstruct stands in for a stream that is no longer live: the last
// assistant message if it landed within the grace window, otherwise nothing.
func (h *Handler) reconstruct(ctx context.Context, chatID string) resumable.Reader {
	messages, err := h.chats.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		h.log.Warn("load messages for reconnect", zap.String("chat_id", chatID), zap.Error(err))
		return resumable.StaticReader()
	}
	if len(messages) == 0 {
		return resumable.StaticReader()
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleAssistant || h.now().Sub(last.CreatedAt) > resumeGraceWindow {
		return resumable.StaticReader()
	}
	frame, err := sse.Encode(sse.EventAppendMessage, gin.H{"message": last})
	if err != nil {
		h.log.Warn("encode message", zap.String("chat_id", chatID), zap.Error(err))
		return resumable.StaticReader()
	}
	return resumable.StaticReader(frame)
}

func (h *Handler) deleteChat(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat id is required"})
		return
	}
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ch, err := h.chats.GetChatByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		h.internalError(c, "load chat", err)
		return
	}
	if ch.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	deleted, err := h.chats.DeleteChatByID(ctx, id)
	if err != nil {
		h.internalError(c, "delete chat", err)
		return
	}
	h.events.ChatDeleted(ctx, deleted)
	c.JSON(http.StatusOK, deleted)
}
