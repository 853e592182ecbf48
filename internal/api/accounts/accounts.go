// Package accounts implements registration and login. Login verifies the
// bcrypt password hash and issues a signed bearer token; everything else in
// the API identifies the caller through that token.
package accounts

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopconnect/shopconnect/internal/auth"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
)

const bcryptCost = 12

// registerRequest is the body for creating an account
type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required,min=8"`
}

// loginRequest is the body for exchanging credentials for a token
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func userJSON(user *models.User) gin.H {
	return gin.H{
		"id":        user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	}
}

// @Summary      Register account
// @Description  Creates a user account. New accounts always get the regular user role.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        request  body  registerRequest  true  "Account fields"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string  "Invalid request body"
// @Failure      409  {object}  map[string]string  "Email already registered"
// @Router       /auth/register [post]
func RegisterHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewUserRepository(db)

	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		existing, err := repo.GetByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		user := &models.User{
			Email:        email,
			Name:         req.Name,
			PasswordHash: string(hash),
			Role:         models.RoleUser,
		}
		if err := repo.Create(c.Request.Context(), user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		c.JSON(http.StatusCreated, userJSON(user))
	}
}

// @Summary      Log in
// @Description  Exchanges email and password for a bearer token.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Param        request  body  loginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token, user"
// @Failure      401  {object}  map[string]string  "Invalid email or password"
// @Router       /auth/login [post]
func LoginHandler(db *sql.DB, tokens *auth.TokenService) gin.HandlerFunc {
	repo := repositories.NewUserRepository(db)

	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		user, err := repo.GetByEmail(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}
		// Run the comparison against a dummy hash even when the account does
		// not exist so the response time does not reveal which emails are
		// registered.
		hash := dummyHash
		if user != nil {
			hash = user.PasswordHash
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil || user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}

		token, err := tokens.Generate(user.ID.String(), user.Email, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user":  userJSON(user),
		})
	}
}

// bcrypt hash of an unguessable throwaway value, used to equalize login
// timing for unknown emails.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("shopconnect-no-such-account"), bcryptCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()
