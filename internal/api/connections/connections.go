// Package connections exposes the connection lifecycle over HTTP: shop
// owners open connections to providers, inspect their state and payment
// ledger, retry failed setups, and disconnect. All state transitions go
// through the lifecycle manager; handlers only translate transport.
package connections

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/lifecycle"
	"github.com/shopconnect/shopconnect/internal/middleware"
)

// ConnectionReader is the read surface handlers need beyond the manager
type ConnectionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	ListByShop(ctx context.Context, shopID uuid.UUID) ([]*models.Connection, error)
}

// HistoryReader lists the append-only payment ledger of a connection
type HistoryReader interface {
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.PaymentHistory, error)
}

// ShopReader resolves shop ownership for read authorization
type ShopReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Shop, error)
}

// Handler serves the connection endpoints
type Handler struct {
	manager     *lifecycle.Manager
	connections ConnectionReader
	history     HistoryReader
	shops       ShopReader
	logger      *slog.Logger
}

// NewHandler creates a connections handler
func NewHandler(manager *lifecycle.Manager, connections ConnectionReader, history HistoryReader, shops ShopReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:     manager,
		connections: connections,
		history:     history,
		shops:       shops,
		logger:      logger.With("component", "connections_api"),
	}
}

// RegisterRoutes mounts the connection endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/connections", h.Create)
	rg.GET("/connections/:id", h.Get)
	rg.GET("/connections/:id/history", h.History)
	rg.POST("/connections/:id/retry", h.Retry)
	rg.POST("/connections/:id/disconnect", h.Disconnect)
	rg.GET("/shops/:id/connections", h.ListForShop)
}

// createRequest is the body for opening a connection
type createRequest struct {
	ShopID                 string `json:"shopId" binding:"required"`
	ProviderID             string `json:"providerId" binding:"required"`
	ConnectionType         string `json:"connectionType" binding:"required"`
	SubscriptionAmountSats *int64 `json:"subscriptionAmountSats,omitempty"`
	SubscriptionInterval   string `json:"subscriptionInterval,omitempty"`
	WalletConnection       string `json:"walletConnection,omitempty"`
}

// connectionResponse is the wire form of a connection. The encrypted wallet
// secret never leaves the server.
type connectionResponse struct {
	ID                     string  `json:"id"`
	ShopID                 string  `json:"shopId"`
	ProviderID             string  `json:"providerId"`
	ConnectionType         string  `json:"connectionType"`
	Status                 string  `json:"status"`
	SetupError             *string `json:"setupError,omitempty"`
	RetryCount             int     `json:"retryCount"`
	SubscriptionAmountSats *int64  `json:"subscriptionAmountSats,omitempty"`
	SubscriptionInterval   *string `json:"subscriptionInterval,omitempty"`
	LastPaymentID          *string `json:"lastPaymentId,omitempty"`
	CreatedAt              string  `json:"createdAt"`
	UpdatedAt              string  `json:"updatedAt"`
}

func toResponse(conn *models.Connection) connectionResponse {
	return connectionResponse{
		ID:                     conn.ID.String(),
		ShopID:                 conn.ShopID.String(),
		ProviderID:             conn.ProviderID.String(),
		ConnectionType:         string(conn.ConnectionType),
		Status:                 string(conn.Status),
		SetupError:             conn.SetupError,
		RetryCount:             conn.RetryCount,
		SubscriptionAmountSats: conn.SubscriptionAmountSats,
		SubscriptionInterval:   conn.SubscriptionInterval,
		LastPaymentID:          conn.LastPaymentID,
		CreatedAt:              conn.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:              conn.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// historyResponse is the wire form of one ledger row
type historyResponse struct {
	ID            string  `json:"id"`
	ConnectionID  string  `json:"connectionId"`
	AmountSats    int64   `json:"amountSats"`
	Status        string  `json:"status"`
	PaymentMethod string  `json:"paymentMethod"`
	Preimage      *string `json:"preimage,omitempty"`
	ErrorMessage  *string `json:"errorMessage,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

// @Summary      Create connection
// @Description  Opens a connection between a shop owned by the caller and an active
// @Description  provider, then drives it through payment and provisioning. The response
// @Description  status reflects the outcome: ACTIVE, PENDING_SETUP (provisioning
// @Description  exhausted, retryable), or FAILED (payment failed, retryable).
// @Tags         Connections
// @Accept       json
// @Produce      json
// @Param        request  body  createRequest  true  "Connection parameters"
// @Success      201  {object}  connectionResponse
// @Failure      400  {object}  map[string]string  "Invalid request body"
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Shop or provider not found"
// @Failure      409  {object}  map[string]string  "Provider has no available slots"
// @Security     BearerAuth
// @Router       /connections [post]
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	shopID, err := uuid.Parse(req.ShopID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shop ID"})
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider ID"})
		return
	}

	connType := models.ConnectionType(req.ConnectionType)
	if connType != models.ConnectionFreeListing && connType != models.ConnectionPaidSubscription {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection type"})
		return
	}

	input := lifecycle.CreateConnectionInput{
		ShopID:                 shopID,
		ProviderID:             providerID,
		ActorID:                actorID(c),
		ConnectionType:         connType,
		SubscriptionAmountSats: req.SubscriptionAmountSats,
		WalletSecret:           req.WalletConnection,
	}
	if req.SubscriptionInterval != "" {
		input.SubscriptionInterval = &req.SubscriptionInterval
	}

	conn, err := h.manager.CreateConnection(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(conn))
}

// @Summary      Get connection
// @Description  Returns one connection. Visible to the shop owner only.
// @Tags         Connections
// @Produce      json
// @Param        id  path  string  true  "Connection ID (UUID)"
// @Success      200  {object}  connectionResponse
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Connection not found"
// @Security     BearerAuth
// @Router       /connections/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	conn, ok := h.authorizedConnection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(conn))
}

// @Summary      List connection history
// @Description  Returns the append-only payment and audit ledger of a connection,
// @Description  newest first. Audit rows carry amount 0.
// @Tags         Connections
// @Produce      json
// @Param        id  path  string  true  "Connection ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Connection not found"
// @Security     BearerAuth
// @Router       /connections/{id}/history [get]
func (h *Handler) History(c *gin.Context) {
	conn, ok := h.authorizedConnection(c)
	if !ok {
		return
	}

	rows, err := h.history.ListByConnection(c.Request.Context(), conn.ID)
	if err != nil {
		h.logger.Error("failed to list payment history", "connection_id", conn.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payment history"})
		return
	}

	out := make([]historyResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyResponse{
			ID:            row.ID.String(),
			ConnectionID:  row.ConnectionID.String(),
			AmountSats:    row.AmountSats,
			Status:        row.Status,
			PaymentMethod: row.PaymentMethod,
			Preimage:      row.Preimage,
			ErrorMessage:  row.ErrorMessage,
			CreatedAt:     row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"history": out, "count": len(out)})
}

// @Summary      Retry connection setup
// @Description  Re-runs the failed leg of a FAILED or PENDING_SETUP connection:
// @Description  payment for FAILED, provisioning for PENDING_SETUP. Each attempt
// @Description  consumes one unit of the retry budget regardless of outcome.
// @Tags         Connections
// @Produce      json
// @Param        id  path  string  true  "Connection ID (UUID)"
// @Success      200  {object}  connectionResponse
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Connection not found"
// @Failure      409  {object}  map[string]string  "Not retryable, retry limit exceeded, or concurrent modification"
// @Security     BearerAuth
// @Router       /connections/{id}/retry [post]
func (h *Handler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return
	}

	conn, err := h.manager.RetryConnection(c.Request.Context(), id, actorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(conn))
}

// @Summary      Disconnect connection
// @Description  Marks a connection DISCONNECTED. The transition is terminal and
// @Description  idempotent; disconnecting an already disconnected connection succeeds
// @Description  without effect.
// @Tags         Connections
// @Produce      json
// @Param        id  path  string  true  "Connection ID (UUID)"
// @Success      200  {object}  map[string]string
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Connection not found"
// @Security     BearerAuth
// @Router       /connections/{id}/disconnect [post]
func (h *Handler) Disconnect(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return
	}

	if err := h.manager.DisconnectConnection(c.Request.Context(), id, actorID(c)); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// @Summary      List shop connections
// @Description  Returns all connections of a shop owned by the caller, including
// @Description  disconnected ones.
// @Tags         Connections
// @Produce      json
// @Param        id  path  string  true  "Shop ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Shop not found"
// @Security     BearerAuth
// @Router       /shops/{id}/connections [get]
func (h *Handler) ListForShop(c *gin.Context) {
	shopID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shop ID"})
		return
	}

	shop, err := h.shops.Get(c.Request.Context(), shopID)
	if err != nil {
		h.logger.Error("failed to get shop", "shop_id", shopID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get shop"})
		return
	}
	if shop == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
		return
	}
	if actor := actorID(c); actor != uuid.Nil && shop.OwnerID != actor {
		c.JSON(http.StatusForbidden, gin.H{"error": "Shop is owned by another user"})
		return
	}

	conns, err := h.connections.ListByShop(c.Request.Context(), shopID)
	if err != nil {
		h.logger.Error("failed to list connections", "shop_id", shopID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list connections"})
		return
	}

	out := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toResponse(conn))
	}

	c.JSON(http.StatusOK, gin.H{"connections": out, "count": len(out)})
}

// authorizedConnection loads the connection from the :id route parameter and
// enforces that the caller owns the shop behind it.
func (h *Handler) authorizedConnection(c *gin.Context) (*models.Connection, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection ID"})
		return nil, false
	}

	conn, err := h.connections.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to get connection", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get connection"})
		return nil, false
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return nil, false
	}

	if actor := actorID(c); actor != uuid.Nil {
		shop, err := h.shops.Get(c.Request.Context(), conn.ShopID)
		if err != nil {
			h.logger.Error("failed to get shop", "shop_id", conn.ShopID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get shop"})
			return nil, false
		}
		if shop != nil && shop.OwnerID != actor {
			c.JSON(http.StatusForbidden, gin.H{"error": "Shop is owned by another user"})
			return nil, false
		}
	}

	return conn, true
}

// writeError maps lifecycle sentinel errors onto HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, lifecycle.ErrShopNotFound),
		errors.Is(err, lifecycle.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNoCapacity),
		errors.Is(err, lifecycle.ErrNotRetryable),
		errors.Is(err, lifecycle.ErrRetryLimitExceeded),
		errors.Is(err, lifecycle.ErrConflict),
		errors.Is(err, lifecycle.ErrDisconnected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("connection operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// actorID reads the authenticated user from the gin context. uuid.Nil means
// the route was mounted without auth (tests, internal tooling) and ownership
// checks are skipped by the lifecycle manager.
func actorID(c *gin.Context) uuid.UUID {
	val, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return uuid.Nil
	}
	s, ok := val.(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
