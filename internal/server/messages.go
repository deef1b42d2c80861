package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/board"
	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxIDsParameterLength = 200
	idsSeparator          = "."
)

type messagePayload struct {
	ID           int64        `json:"id"`
	Location     geo.Location `json:"location"`
	Content      codec.Value  `json:"content"`
	Text         string       `json:"text"`
	Likes        int64        `json:"likes"`
	Dislikes     int64        `json:"dislikes"`
	Liked        board.Grade  `json:"liked"`
	CreationTime int64        `json:"creationTime"`
	BySelf       bool         `json:"bySelf"`
}

func (h *httpHandler) toPayload(message board.Message, requesterID int64) messagePayload {
	return messagePayload{
		ID:           message.ID,
		Location:     message.Location,
		Content:      message.Content,
		Text:         h.codec.Render(message.Content),
		Likes:        message.Likes,
		Dislikes:     message.Dislikes,
		Liked:        message.RatedByRequester,
		CreationTime: message.CreatedAt.Unix(),
		BySelf:       message.AuthorID == requesterID,
	}
}

func (h *httpHandler) toPayloads(messages []board.Message, requesterID int64) []messagePayload {
	payloads := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, h.toPayload(message, requesterID))
	}
	return payloads
}

func (h *httpHandler) handleGetMessages(c *gin.Context) {
	requesterID := c.GetInt64(userIDContextKey)
	ids := parseIDs(c.Query("ids"))

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			value := time.Unix(seconds, 0).UTC()
			since = &value
		}
	}

	var origin *geo.Location
	if raw := c.Query("location"); raw != "" {
		if parsed, err := geo.ParseLocation(raw, h.maxLevel); err == nil {
			origin = &parsed
		}
	}

	var radius *float64
	if raw := c.Query("radius"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(value, 0) && !math.IsNaN(value) && value > 0 {
			radius = &value
		}
	}

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > h.defaultLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
			return
		}
		limit = value
	}

	ctx := c.Request.Context()
	switch {
	case origin == nil && since == nil && len(ids) == 1:
		message, err := h.store.GetMessage(ctx, ids[0], requesterID)
		if errors.Is(err, board.ErrNotFound) {
			c.JSON(http.StatusOK, []messagePayload{})
			return
		}
		if err != nil {
			requestLogger(c, h.logger).Error("failed to load message", zap.Error(err), zap.Int64("message_id", ids[0]))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
			return
		}
		c.JSON(http.StatusOK, []messagePayload{h.toPayload(message, requesterID)})
	case origin != nil:
		messages, err := h.store.FindMessages(ctx, board.FindParams{
			RequesterID: requesterID,
			Origin:      origin,
			MaxDistance: radius,
			Since:       since,
			Limit:       limit,
			IDs:         ids,
		})
		if err != nil {
			requestLogger(c, h.logger).Error("failed to find messages", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
			return
		}
		c.JSON(http.StatusOK, h.toPayloads(messages, requesterID))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
	}
}

func (h *httpHandler) handlePostMessage(c *gin.Context) {
	requesterID := c.GetInt64(userIDContextKey)

	location, err := geo.ParseLocation(c.PostForm("location"), h.maxLevel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}
	rawContent, err := strconv.ParseUint(strings.TrimSpace(c.PostForm("content")), 10, 64)
	if err != nil || !h.codec.Validate(codec.Value(rawContent)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUser(ctx, requesterID)
	switch {
	case err == nil && user.Banned:
		c.JSON(http.StatusForbidden, gin.H{"error": "user_banned"})
		return
	case err != nil && !errors.Is(err, board.ErrNotFound):
		requestLogger(c, h.logger).Error("failed to load user", zap.Error(err), zap.Int64("user_id", requesterID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_failed"})
		return
	}

	message, err := h.store.AddMessage(ctx, requesterID, location, codec.Value(rawContent))
	if err != nil {
		requestLogger(c, h.logger).Error("failed to add message", zap.Error(err), zap.Int64("user_id", requesterID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_failed"})
		return
	}
	h.metrics.messagesPosted.Inc()
	c.JSON(http.StatusCreated, h.toPayload(message, requesterID))
}

func (h *httpHandler) handleVote(c *gin.Context) {
	requesterID := c.GetInt64(userIDContextKey)

	messageID, err := strconv.ParseInt(c.PostForm("id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}
	rawGrade, err := strconv.Atoi(c.PostForm("vote"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}
	grade, err := board.ParseGrade(rawGrade)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}

	applied, err := h.store.Vote(c.Request.Context(), messageID, requesterID, grade)
	if err != nil {
		requestLogger(c, h.logger).Error("failed to record vote", zap.Error(err), zap.Int64("message_id", messageID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed"})
		return
	}
	h.metrics.observeVote(applied)
	if !applied {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vote_rejected"})
		return
	}
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	requesterID := c.GetInt64(userIDContextKey)

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_arguments"})
		return
	}

	ctx := c.Request.Context()
	message, err := h.store.GetMessage(ctx, messageID, requesterID)
	if errors.Is(err, board.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		requestLogger(c, h.logger).Error("failed to load message", zap.Error(err), zap.Int64("message_id", messageID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	if message.AuthorID != requesterID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_author"})
		return
	}

	deleted, err := h.store.DeleteMessage(ctx, messageID)
	if err != nil {
		requestLogger(c, h.logger).Error("failed to delete message", zap.Error(err), zap.Int64("message_id", messageID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// parseIDs reads a dot separated id list, skipping malformed entries and duplicates.
func parseIDs(raw string) []int64 {
	if raw == "" || len(raw) >= maxIDsParameterLength {
		return nil
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, field := range strings.Split(raw, idsSeparator) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
