package admin

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradewire/signal-relay/internal/errors"
	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/processor"
	"github.com/tradewire/signal-relay/internal/store"
	"github.com/tradewire/signal-relay/internal/upstream"
)

const (
	serviceName        = "signal-relay"
	defaultSignalLimit = 50
	maxSignalLimit     = 500
	healthPingTimeout  = 2 * time.Second
)

// HistoryLoader triggers backfills from the capture service.
type HistoryLoader interface {
	Load(ctx context.Context, chatID int64, limit int) (*upstream.HistoryResult, error)
}

// Handler serves the admin and auth-validation HTTP surface.
type Handler struct {
	db       *sql.DB
	clients  *store.ClientRepo
	channels *store.ChannelRepo
	messages *store.MessageRepo
	history  HistoryLoader
	auth     *Auth
	logger   *logger.Logger
}

func NewHandler(db *sql.DB, clients *store.ClientRepo, channels *store.ChannelRepo,
	messages *store.MessageRepo, history HistoryLoader, auth *Auth, log *logger.Logger) *Handler {
	return &Handler{
		db:       db,
		clients:  clients,
		channels: channels,
		messages: messages,
		history:  history,
		auth:     auth,
		logger:   log.WithComponent("admin"),
	}
}

// RegisterRoutes mounts the full HTTP surface on the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/auth/validate", h.ValidateAuth)

		authed := api.Group("", h.auth.RequireAny())
		authed.GET("/stats", h.GetStats)
		authed.GET("/signals", h.GetSignals)
	}

	adm := r.Group("/admin", h.auth.RequireAdmin())
	{
		adm.POST("/clients", h.CreateClient)
		adm.GET("/clients", h.ListClients)
		adm.DELETE("/clients/:id", h.DeleteClient)

		adm.POST("/channels", h.UpsertChannel)
		adm.GET("/channels", h.ListChannels)
		adm.DELETE("/channels/:sourceId", h.DeleteChannel)
		adm.PATCH("/channels/:sourceId/toggle", h.ToggleChannel)

		adm.GET("/stats", h.GetStats)
		adm.GET("/signals", h.GetSignals)

		adm.POST("/history/load", h.LoadHistory)
		adm.DELETE("/history/:sourceId", h.DeleteHistory)
	}
}

// Health reports service liveness and database reachability.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	dbStatus := "ok"
	status := "ok"
	code := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "error"
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.Error("health check database ping failed", slog.String("error", err.Error()))
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    gin.H{"database": dbStatus},
	})
}

// ValidateAuth resolves the caller's credential to a role without touching any
// resource. It does its own header checks so failures can carry the
// {valid:false} shape.
func (h *Handler) ValidateAuth(c *gin.Context) {
	if adminKey := c.GetHeader("X-Admin-Key"); adminKey != "" {
		if adminKey == h.auth.masterKey {
			c.JSON(http.StatusOK, gin.H{"valid": true, "role": RoleAdmin})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Invalid admin key"})
		return
	}

	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Missing API key"})
		return
	}

	client, err := h.clients.LookupByKey(c.Request.Context(), apiKey)
	if err != nil {
		h.logger.Error("auth validation lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "error": "Validation failed"})
		return
	}
	if client == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Invalid API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "role": RoleClient, "clientId": client.ID})
}

// GetStats returns message table counters.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.messages.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load stats", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to load stats", nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSignals returns the most recent persisted messages, newest first.
func (h *Handler) GetSignals(c *gin.Context) {
	limit := defaultSignalLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errors.BadRequest(c, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxSignalLimit {
		limit = maxSignalLimit
	}

	messages, err := h.messages.GetRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load signals", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to load signals", nil)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": messages, "count": len(messages)})
}

// CreateClient mints a new subscriber credential. The key is only ever shown
// in this response.
func (h *Handler) CreateClient(c *gin.Context) {
	client, err := h.clients.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create client", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to create client", nil)
		return
	}

	h.logger.Info("client created", slog.String("client_id", client.ID))
	c.JSON(http.StatusCreated, client)
}

// ListClients returns every subscriber credential.
func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.clients.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list clients", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to list clients", nil)
		return
	}
	if clients == nil {
		clients = []store.Client{}
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

// DeleteClient revokes a credential permanently.
func (h *Handler) DeleteClient(c *gin.Context) {
	id := c.Param("id")

	err := h.clients.Delete(c.Request.Context(), id)
	if err == sql.ErrNoRows {
		errors.NotFound(c, "Client not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to delete client", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to delete client", nil)
		return
	}

	h.logger.Info("client deleted", slog.String("client_id", id))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type channelRequest struct {
	ChatID   int64  `json:"chat_id" binding:"required"`
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

// UpsertChannel whitelists a source channel. Raw chat ids are normalized to
// the supergroup form at this boundary; the rest of the system only sees
// normalized ids.
func (h *Handler) UpsertChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "chat_id is required", nil)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	channel, err := h.channels.Upsert(c.Request.Context(), store.ChannelInput{
		ChatID:   processor.NormalizeChatID(req.ChatID),
		Name:     req.Name,
		IsActive: active,
	})
	if err != nil {
		h.logger.Error("failed to upsert channel", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to save channel", nil)
		return
	}

	h.logger.Info("channel upserted",
		slog.Int64("chat_id", channel.ChatID),
		slog.String("name", channel.Name),
		slog.Bool("is_active", channel.IsActive))
	c.JSON(http.StatusOK, channel)
}

// ListChannels returns whitelisted channels; ?all=true includes disabled ones.
func (h *Handler) ListChannels(c *gin.Context) {
	var channels []store.Channel
	var err error
	if c.Query("all") == "true" {
		channels, err = h.channels.ListAll(c.Request.Context())
	} else {
		channels, err = h.channels.ListActive(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("failed to list channels", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to list channels", nil)
		return
	}
	if channels == nil {
		channels = []store.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels, "count": len(channels)})
}

// DeleteChannel removes a channel and, via cascade, its messages.
func (h *Handler) DeleteChannel(c *gin.Context) {
	chatID, ok := h.sourceID(c)
	if !ok {
		return
	}

	err := h.channels.Delete(c.Request.Context(), chatID)
	if err == sql.ErrNoRows {
		errors.NotFound(c, "Channel not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to delete channel", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to delete channel", nil)
		return
	}

	h.logger.Info("channel deleted", slog.Int64("chat_id", chatID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type toggleRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// ToggleChannel flips a channel's whitelist flag.
func (h *Handler) ToggleChannel(c *gin.Context) {
	chatID, ok := h.sourceID(c)
	if !ok {
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		errors.BadRequest(c, "is_active is required", nil)
		return
	}

	err := h.channels.SetActive(c.Request.Context(), chatID, *req.IsActive)
	if err == sql.ErrNoRows {
		errors.NotFound(c, "Channel not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to toggle channel", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to update channel", nil)
		return
	}

	h.logger.Info("channel toggled",
		slog.Int64("chat_id", chatID),
		slog.Bool("is_active", *req.IsActive))
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "is_active": *req.IsActive})
}

type historyRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
	Limit  int   `json:"limit"`
}

// LoadHistory triggers a synchronous backfill for one channel.
func (h *Handler) LoadHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "chat_id is required", nil)
		return
	}
	if req.Limit < 0 {
		errors.BadRequest(c, "limit must not be negative", nil)
		return
	}

	result, err := h.history.Load(c.Request.Context(), req.ChatID, req.Limit)
	if err != nil {
		h.logger.Error("history load failed",
			slog.Int64("chat_id", req.ChatID),
			slog.String("error", err.Error()))
		errors.Internal(c, "History load failed", map[string]interface{}{"reason": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeleteHistory removes every persisted message for a channel.
func (h *Handler) DeleteHistory(c *gin.Context) {
	chatID, ok := h.sourceID(c)
	if !ok {
		return
	}

	deleted, err := h.messages.DeleteByChannel(c.Request.Context(), chatID)
	if err != nil {
		h.logger.Error("failed to delete history", slog.String("error", err.Error()))
		errors.Internal(c, "Failed to delete history", nil)
		return
	}

	h.logger.Info("history deleted",
		slog.Int64("chat_id", chatID),
		slog.Int64("deleted", deleted))
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "deleted": deleted})
}

// sourceID parses and normalizes the :sourceId path parameter. It writes the
// 400 response itself when the parameter is malformed.
func (h *Handler) sourceID(c *gin.Context) (int64, bool) {
	raw := c.Param("sourceId")
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		errors.BadRequest(c, "sourceId must be an integer chat id", nil)
		return 0, false
	}
	return processor.NormalizeChatID(parsed), true
}
