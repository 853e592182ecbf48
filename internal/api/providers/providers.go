// Package providers implements the infrastructure provider endpoints:
// operators register a provider listing with its management-API credentials,
// publish onboarding content for connected shops, and toggle marketplace
// visibility. Credentials are sealed at rest and never serialized back out.
package providers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
	"github.com/shopconnect/shopconnect/internal/middleware"
)

// createRequest is the body for registering a provider
type createRequest struct {
	Name             string          `json:"name" binding:"required"`
	ServiceType      string          `json:"serviceType" binding:"required"`
	HostURL          *string         `json:"hostUrl,omitempty"`
	APIKey           string          `json:"apiKey,omitempty"`
	WebhookSecret    string          `json:"webhookSecret,omitempty"`
	LightningAddress *string         `json:"lightningAddress,omitempty"`
	TotalSlots       int             `json:"totalSlots"`
	WelcomeText      *string         `json:"welcomeText,omitempty"`
	SetupSteps       json.RawMessage `json:"setupSteps,omitempty"`
	ExternalLinks    json.RawMessage `json:"externalLinks,omitempty"`
	ContactInfo      *string         `json:"contactInfo,omitempty"`
}

// onboardingRequest is the body for updating onboarding content
type onboardingRequest struct {
	WelcomeText   *string         `json:"welcomeText,omitempty"`
	SetupSteps    json.RawMessage `json:"setupSteps,omitempty"`
	ExternalLinks json.RawMessage `json:"externalLinks,omitempty"`
	ContactInfo   *string         `json:"contactInfo,omitempty"`
}

// providerJSON serializes a provider listing. The sealed credential columns
// are reduced to a configured flag.
func providerJSON(p *models.InfrastructureProvider, occupied int) gin.H {
	return gin.H{
		"id":               p.ID,
		"ownerId":          p.OwnerID,
		"name":             p.Name,
		"serviceType":      p.ServiceType,
		"hostUrl":          p.HostURL,
		"lightningAddress": p.LightningAddress,
		"totalSlots":       p.TotalSlots,
		"availableSlots":   p.TotalSlots - occupied,
		"configured":       p.Configured(),
		"isActive":         p.IsActive,
		"createdAt":        p.CreatedAt,
		"updatedAt":        p.UpdatedAt,
	}
}

func onboardingJSON(p *models.InfrastructureProvider) gin.H {
	setupSteps := json.RawMessage(p.SetupSteps)
	if len(setupSteps) == 0 {
		setupSteps = json.RawMessage("[]")
	}
	externalLinks := json.RawMessage(p.ExternalLinks)
	if len(externalLinks) == 0 {
		externalLinks = json.RawMessage("{}")
	}
	return gin.H{
		"welcomeText":   p.WelcomeText,
		"setupSteps":    setupSteps,
		"externalLinks": externalLinks,
		"contactInfo":   p.ContactInfo,
	}
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

func validServiceType(t models.ServiceType) bool {
	switch t {
	case models.ServiceBTCPayServer, models.ServiceBLFS, models.ServiceOther:
		return true
	}
	return false
}

// @Summary      Register provider
// @Description  Registers an infrastructure provider listing owned by the caller.
// @Description  The management API key and webhook secret are encrypted before
// @Description  storage and never returned by any endpoint.
// @Tags         Providers
// @Accept       json
// @Produce      json
// @Param        request  body  createRequest  true  "Provider fields"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string  "Invalid request body"
// @Security     BearerAuth
// @Router       /providers [post]
func CreateHandler(db *sql.DB, box *crypto.SecretBox) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		serviceType := models.ServiceType(req.ServiceType)
		if !validServiceType(serviceType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid service type"})
			return
		}
		if req.TotalSlots < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Total slots must be at least 1"})
			return
		}

		ownerID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		provider := &models.InfrastructureProvider{
			OwnerID:          ownerID,
			Name:             req.Name,
			ServiceType:      serviceType,
			HostURL:          req.HostURL,
			LightningAddress: req.LightningAddress,
			TotalSlots:       req.TotalSlots,
			WelcomeText:      req.WelcomeText,
			SetupSteps:       req.SetupSteps,
			ExternalLinks:    req.ExternalLinks,
			ContactInfo:      req.ContactInfo,
			IsActive:         true,
		}

		if req.APIKey != "" {
			sealed, err := box.Seal(req.APIKey)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store credentials"})
				return
			}
			provider.APIKeyEncrypted = sealed
		}
		if req.WebhookSecret != "" {
			sealed, err := box.Seal(req.WebhookSecret)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store credentials"})
				return
			}
			provider.WebhookSecretEncrypted = sealed
		}

		if err := repo.Create(c.Request.Context(), provider); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create provider"})
			return
		}

		c.JSON(http.StatusCreated, providerJSON(provider, 0))
	}
}

// @Summary      List providers
// @Description  Returns all active provider listings with slot availability.
// @Description  Unauthenticated; this is the marketplace catalog.
// @Tags         Providers
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /providers [get]
func ListHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		providers, err := repo.ListActive(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list providers"})
			return
		}

		out := make([]gin.H, 0, len(providers))
		for _, p := range providers {
			occupied, err := repo.OccupiedSlots(c.Request.Context(), p.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count slots"})
				return
			}
			out = append(out, providerJSON(p, occupied))
		}
		c.JSON(http.StatusOK, gin.H{"providers": out, "count": len(out)})
	}
}

// @Summary      Get provider
// @Description  Returns one provider listing with slot availability.
// @Tags         Providers
// @Produce      json
// @Param        id  path  string  true  "Provider ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string  "Provider not found"
// @Router       /providers/{id} [get]
func GetHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		provider, ok := loadProvider(c, repo)
		if !ok {
			return
		}

		occupied, err := repo.OccupiedSlots(c.Request.Context(), provider.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count slots"})
			return
		}

		c.JSON(http.StatusOK, providerJSON(provider, occupied))
	}
}

// @Summary      Get provider onboarding content
// @Description  Returns the welcome text, ordered setup steps, and external links
// @Description  a provider publishes for newly connected shops.
// @Tags         Providers
// @Produce      json
// @Param        id  path  string  true  "Provider ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string  "Provider not found"
// @Router       /providers/{id}/onboarding [get]
func OnboardingHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		provider, ok := loadProvider(c, repo)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, onboardingJSON(provider))
	}
}

// @Summary      Update provider onboarding content
// @Description  Replaces the onboarding content of a provider owned by the caller.
// @Tags         Providers
// @Accept       json
// @Produce      json
// @Param        id       path  string             true  "Provider ID (UUID)"
// @Param        request  body  onboardingRequest  true  "Onboarding content"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]string  "Provider is owned by another user"
// @Failure      404  {object}  map[string]string  "Provider not found"
// @Security     BearerAuth
// @Router       /providers/{id}/onboarding [put]
func UpdateOnboardingHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		provider, ok := loadOwnedProvider(c, repo)
		if !ok {
			return
		}

		var req onboardingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		err := repo.UpdateOnboarding(c.Request.Context(), provider.ID,
			req.WelcomeText, req.SetupSteps, req.ExternalLinks, req.ContactInfo)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update onboarding content"})
			return
		}

		provider.WelcomeText = req.WelcomeText
		provider.SetupSteps = req.SetupSteps
		provider.ExternalLinks = req.ExternalLinks
		provider.ContactInfo = req.ContactInfo
		c.JSON(http.StatusOK, onboardingJSON(provider))
	}
}

// @Summary      Set provider visibility
// @Description  Toggles whether a provider owned by the caller appears in the catalog.
// @Tags         Providers
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Provider ID (UUID)"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]string  "Provider is owned by another user"
// @Failure      404  {object}  map[string]string  "Provider not found"
// @Security     BearerAuth
// @Router       /providers/{id}/visibility [put]
func SetVisibilityHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewProviderRepository(db)

	return func(c *gin.Context) {
		provider, ok := loadOwnedProvider(c, repo)
		if !ok {
			return
		}

		var req struct {
			IsActive bool `json:"isActive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		if err := repo.SetActive(c.Request.Context(), provider.ID, req.IsActive); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update provider"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": provider.ID, "isActive": req.IsActive})
	}
}

func loadProvider(c *gin.Context, repo *repositories.ProviderRepository) (*models.InfrastructureProvider, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider ID"})
		return nil, false
	}

	provider, err := repo.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get provider"})
		return nil, false
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return nil, false
	}
	return provider, true
}

func loadOwnedProvider(c *gin.Context, repo *repositories.ProviderRepository) (*models.InfrastructureProvider, bool) {
	provider, ok := loadProvider(c, repo)
	if !ok {
		return nil, false
	}

	caller, ok := currentUser(c)
	if !ok || caller != provider.OwnerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Provider is owned by another user"})
		return nil, false
	}
	return provider, true
}
