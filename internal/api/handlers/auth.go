package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/staryskies/explo/internal/crypto"
	"github.com/staryskies/explo/internal/store"
)

// AuthHandler issues bearer tokens for guest and registered accounts.
type AuthHandler struct {
	db         *sql.DB
	queries    *store.Queries
	jwtManager *crypto.JWTManager
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(db *sql.DB, jwtManager *crypto.JWTManager) *AuthHandler {
	return &AuthHandler{
		db:         db,
		queries:    store.New(db),
		jwtManager: jwtManager,
	}
}

type guestRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

type credentialsRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Name  string `json:"displayName"`
}

// PostGuest handles POST /v1/auth/guest. Guests get a throwaway identity
// valid for the token lifetime; nothing to remember, nothing to leak.
func (h *AuthHandler) PostGuest(c *gin.Context) {
	var req guestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len(name) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayName must be 1-32 characters"})
		return
	}

	account := store.Account{
		ID:          uuid.New().String(),
		DisplayName: name,
		Guest:       true,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := h.queries.CreateAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	h.issue(c, account)
}

// PostRegister handles POST /v1/auth/register.
func (h *AuthHandler) PostRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len(name) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayName must be 1-32 characters"})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	if _, err := h.queries.GetAccountByName(c.Request.Context(), name); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "display name already taken"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check account"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	account := store.Account{
		ID:           uuid.New().String(),
		DisplayName:  name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UnixMilli(),
	}
	if err := h.queries.CreateAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	h.issue(c, account)
}

// PostLogin handles POST /v1/auth/login.
func (h *AuthHandler) PostLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.queries.GetAccountByName(c.Request.Context(), strings.TrimSpace(req.DisplayName))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.issue(c, account)
}

func (h *AuthHandler) issue(c *gin.Context, account store.Account) {
	token, err := h.jwtManager.IssueToken(account.ID, account.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, ID: account.ID, Name: account.DisplayName})
}
