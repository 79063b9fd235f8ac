package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appMiddleware "github.com/markdave123-py/docchat/internal/api/middlewares"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
	"github.com/markdave123-py/docchat/internal/services"
)

// UserService is the identity surface the auth handler needs.
type UserService interface {
	Signup(ctx context.Context, firstName, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

type AuthHandler struct {
	users  UserService
	secret string
	log    *zap.Logger
}

func NewAuthHandler(users UserService, jwtSecret string, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, secret: jwtSecret, log: logger.OrNop(log)}
}

type signupRequest struct {
	FirstName string `json:"first_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.Signup(r.Context(), req.FirstName, req.Email, req.Password)
	if errors.Is(err, services.ErrUserExists) {
		writeMessage(w, http.StatusConflict, "user_exists", "user exists")
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		writeMessage(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := appMiddleware.IssueToken(h.secret, user.ID, appMiddleware.TokenTTL)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, User: user})
}
