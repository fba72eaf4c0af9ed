package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/models"
	"github.com/smsregister/smsregister/internal/service"
)

// AccountHandlers serve the phone verification, signup and password
// reset endpoints. None of them require authentication.
type AccountHandlers struct {
	verificationService *service.VerificationService
	authService         *service.AuthService
	logger              *logrus.Logger
}

func NewAccountHandlers(
	verificationService *service.VerificationService,
	authService *service.AuthService,
	logger *logrus.Logger,
) *AccountHandlers {
	return &AccountHandlers{
		verificationService: verificationService,
		authService:         authService,
		logger:              logger,
	}
}

type SendCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type ConfirmCodeRequest struct {
	PhoneNumber string          `json:"phone_number"`
	AuthNumber  json.RawMessage `json:"auth_number"`
}

type UserResponse struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Nickname    string `json:"nickname"`
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

type SignupResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

func newUserResponse(account *models.Account) UserResponse {
	return UserResponse{
		Username:    account.Username,
		Email:       account.Email,
		Nickname:    account.Nickname,
		PhoneNumber: account.PhoneNumber,
		Name:        account.Name,
	}
}

func (h *AccountHandlers) SendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := decodeJSON(r, &req, "phone_number"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	if err := h.verificationService.RequestCode(r.Context(), req.PhoneNumber); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithMessage(w, http.StatusOK, service.MsgCodeSent)
}

func (h *AccountHandlers) decodeConfirm(r *http.Request) (string, int, error) {
	var req ConfirmCodeRequest
	if err := decodeJSON(r, &req, "phone_number", "auth_number"); err != nil {
		return "", 0, err
	}
	code, err := parseCode(req.AuthNumber)
	if err != nil {
		return "", 0, err
	}
	return req.PhoneNumber, code, nil
}

func (h *AccountHandlers) ConfirmCode(w http.ResponseWriter, r *http.Request) {
	phoneNumber, code, err := h.decodeConfirm(r)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	if err := h.authService.ConfirmForSignup(r.Context(), phoneNumber, code); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithMessage(w, http.StatusOK, service.MsgPhoneConfirmed)
}

func (h *AccountHandlers) TempPassword(w http.ResponseWriter, r *http.Request) {
	phoneNumber, code, err := h.decodeConfirm(r)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	if err := h.authService.IssueTempCredential(r.Context(), phoneNumber, code); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithMessage(w, http.StatusOK, service.MsgTempPasswordIssued)
}

func (h *AccountHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req service.ChangePasswordInput
	if err := decodeJSON(r, &req, "username", "old_password", "new_password1", "new_password2"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	if err := h.authService.ChangePassword(r.Context(), req); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithMessage(w, http.StatusOK, service.MsgPasswordChanged)
}

func (h *AccountHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req service.RegistrationInput
	if err := decodeJSON(r, &req, "phone_number", "username", "email", "password1", "password2", "nickname", "name"); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	account, err := h.authService.CompleteRegistration(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	tokenPair, err := h.authService.IssueTokens(account)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, SignupResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		User:         newUserResponse(account),
	})
}
