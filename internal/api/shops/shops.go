// Package shops implements the shop CRUD endpoints: owners create and edit
// their storefront records, and the public marketplace directory lists
// shops that opted into visibility. Provider credential fields never appear
// in responses; they are internal to the connection lifecycle.
package shops

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
	"github.com/shopconnect/shopconnect/internal/middleware"
	"github.com/shopconnect/shopconnect/pkg/lnaddress"
)

// shopRequest is the body for creating or updating a shop
type shopRequest struct {
	Name             string  `json:"name" binding:"required"`
	Description      *string `json:"description,omitempty"`
	Website          *string `json:"website,omitempty"`
	ContactEmail     *string `json:"contactEmail,omitempty"`
	LightningAddress *string `json:"lightningAddress,omitempty"`
	IsPublic         bool    `json:"isPublic"`
}

func shopJSON(shop *models.Shop) gin.H {
	return gin.H{
		"id":               shop.ID,
		"ownerId":          shop.OwnerID,
		"name":             shop.Name,
		"description":      shop.Description,
		"website":          shop.Website,
		"contactEmail":     shop.ContactEmail,
		"lightningAddress": shop.LightningAddress,
		"isPublic":         shop.IsPublic,
		"provisioned":      shop.Provisioned(),
		"createdAt":        shop.CreatedAt,
		"updatedAt":        shop.UpdatedAt,
	}
}

// validateRequest rejects malformed lightning addresses up front so a shop
// never reaches payment initiation with an address that cannot resolve.
func validateRequest(c *gin.Context, req *shopRequest) bool {
	if req.LightningAddress != nil && *req.LightningAddress != "" {
		if _, err := lnaddress.Parse(*req.LightningAddress); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lightning address"})
			return false
		}
	}
	return true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	s, _ := val.(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// @Summary      Create shop
// @Description  Creates a shop owned by the caller.
// @Tags         Shops
// @Accept       json
// @Produce      json
// @Param        request  body  shopRequest  true  "Shop fields"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string  "Invalid request body"
// @Security     BearerAuth
// @Router       /shops [post]
func CreateHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewShopRepository(db)

	return func(c *gin.Context) {
		var req shopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if !validateRequest(c, &req) {
			return
		}

		ownerID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		shop := &models.Shop{
			OwnerID:          ownerID,
			Name:             req.Name,
			Description:      req.Description,
			Website:          req.Website,
			ContactEmail:     req.ContactEmail,
			LightningAddress: req.LightningAddress,
			IsPublic:         req.IsPublic,
		}
		if err := repo.Create(c.Request.Context(), shop); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create shop"})
			return
		}

		c.JSON(http.StatusCreated, shopJSON(shop))
	}
}

// @Summary      Get shop
// @Description  Returns one shop. Private shops are visible to their owner only.
// @Tags         Shops
// @Produce      json
// @Param        id  path  string  true  "Shop ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string  "Shop not found"
// @Security     BearerAuth
// @Router       /shops/{id} [get]
func GetHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewShopRepository(db)

	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shop ID"})
			return
		}

		shop, err := repo.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get shop"})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
			return
		}

		if !shop.IsPublic {
			// Hidden from everyone but the owner; 404 so the id leaks nothing.
			caller, ok := currentUser(c)
			if !ok || caller != shop.OwnerID {
				c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
				return
			}
		}

		c.JSON(http.StatusOK, shopJSON(shop))
	}
}

// @Summary      List own shops
// @Description  Returns all shops owned by the caller, newest first.
// @Tags         Shops
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /shops [get]
func ListOwnHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewShopRepository(db)

	return func(c *gin.Context) {
		ownerID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		shops, err := repo.ListByOwner(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list shops"})
			return
		}

		out := make([]gin.H, 0, len(shops))
		for _, shop := range shops {
			out = append(out, shopJSON(shop))
		}
		c.JSON(http.StatusOK, gin.H{"shops": out, "count": len(out)})
	}
}

// @Summary      List public shops
// @Description  Returns the public marketplace directory, newest first. Unauthenticated.
// @Tags         Shops
// @Produce      json
// @Param        limit   query  int  false  "Page size (1-100, default 50)"
// @Param        offset  query  int  false  "Page offset"
// @Success      200  {object}  map[string]interface{}
// @Router       /public/shops [get]
func ListPublicHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewShopRepository(db)

	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if offset < 0 {
			offset = 0
		}

		shops, err := repo.ListPublic(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list shops"})
			return
		}

		out := make([]gin.H, 0, len(shops))
		for _, shop := range shops {
			out = append(out, shopJSON(shop))
		}
		c.JSON(http.StatusOK, gin.H{"shops": out, "count": len(out)})
	}
}

// @Summary      Update shop
// @Description  Updates the owner-editable fields of a shop owned by the caller.
// @Tags         Shops
// @Accept       json
// @Produce      json
// @Param        id       path  string       true  "Shop ID (UUID)"
// @Param        request  body  shopRequest  true  "Shop fields"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]string  "Shop is owned by another user"
// @Failure      404  {object}  map[string]string  "Shop not found"
// @Security     BearerAuth
// @Router       /shops/{id} [put]
func UpdateHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewShopRepository(db)

	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shop ID"})
			return
		}

		var req shopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if !validateRequest(c, &req) {
			return
		}

		shop, err := repo.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get shop"})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
			return
		}

		caller, ok := currentUser(c)
		if !ok || caller != shop.OwnerID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Shop is owned by another user"})
			return
		}

		shop.Name = req.Name
		shop.Description = req.Description
		shop.Website = req.Website
		shop.ContactEmail = req.ContactEmail
		shop.LightningAddress = req.LightningAddress
		shop.IsPublic = req.IsPublic

		if err := repo.Update(c.Request.Context(), shop); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update shop"})
			return
		}

		c.JSON(http.StatusOK, shopJSON(shop))
	}
}
