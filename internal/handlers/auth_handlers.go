package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/middleware"
	"github.com/smsregister/smsregister/internal/service"
)

type AuthHandlers struct {
	authService *service.AuthService
	jwtService  *service.JWTService
	logger      *logrus.Logger
}

func NewAuthHandlers(
	authService *service.AuthService,
	jwtService *service.JWTService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		jwtService:  jwtService,
		logger:      logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type VerifyTokenRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req, "username", "password"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	tokenPair, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, tokenPair)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(r, &req, "refresh_token"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	accessToken, err := h.jwtService.Refresh(req.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Debug("Refresh rejected")
		respondWithError(w, h.logger, service.ErrInvalidToken)
		return
	}

	respondWithJSON(w, http.StatusOK, accessToken)
}

func (h *AuthHandlers) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if err := decodeJSON(r, &req, "token"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	if _, err := h.jwtService.VerifyToken(req.Token); err != nil {
		respondWithError(w, h.logger, service.ErrInvalidToken)
		return
	}

	respondWithJSON(w, http.StatusOK, struct{}{})
}

// Profile returns the authenticated account. Mounted behind RequireAuth.
func (h *AuthHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, h.logger, service.ErrInvalidToken)
		return
	}

	account, err := h.authService.Profile(r.Context(), claims)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(account))
}
