package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/metrics"
	"github.com/smsregister/smsregister/internal/models"
	"github.com/smsregister/smsregister/internal/repository"
	"github.com/smsregister/smsregister/internal/validation"
)

// AuthService runs the account side of the flow: signup confirmation,
// registration, password reset and login.
type AuthService struct {
	verification *VerificationService
	accounts     repository.AccountStore
	hasher       PasswordHasher
	tokens       *JWTService
	validator    *validation.Validator
	clock        clockwork.Clock
	logger       *logrus.Logger
}

func NewAuthService(
	verification *VerificationService,
	accounts repository.AccountStore,
	hasher PasswordHasher,
	tokens *JWTService,
	clock clockwork.Clock,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		verification: verification,
		accounts:     accounts,
		hasher:       hasher,
		tokens:       tokens,
		validator:    validation.New(),
		clock:        clock,
		logger:       logger,
	}
}

type RegistrationInput struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
	Username    string `json:"username" validate:"required,username"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password1   string `json:"password1" validate:"required"`
	Password2   string `json:"password2" validate:"required"`
	Nickname    string `json:"nickname" validate:"required,nickname"`
	Name        string `json:"name" validate:"required,personname"`
}

type ChangePasswordInput struct {
	Username     string `json:"username" validate:"required,username"`
	OldPassword  string `json:"old_password" validate:"required,max=128"`
	NewPassword1 string `json:"new_password1" validate:"required,max=128"`
	NewPassword2 string `json:"new_password2" validate:"required,max=128"`
}

// CodeConfirmation is a phone number with the code texted to it.
type CodeConfirmation struct {
	PhoneNumber string `json:"phone_number" validate:"phone"`
	Code        int    `json:"auth_number" validate:"code"`
}

func (s *AuthService) checkCodeFormat(phoneNumber string, code int) error {
	if fields := s.validator.Struct(CodeConfirmation{PhoneNumber: phoneNumber, Code: code}); fields != nil {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (s *AuthService) accountByPhone(ctx context.Context, phoneNumber string) (*models.Account, error) {
	account, err := s.accounts.GetByPhoneNumber(ctx, phoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ConfirmForSignup turns a verified phone number into a placeholder
// account. Confirming again with a still valid code is a no-op.
func (s *AuthService) ConfirmForSignup(ctx context.Context, phoneNumber string, code int) error {
	if err := s.checkCodeFormat(phoneNumber, code); err != nil {
		return err
	}

	state, _, err := s.verification.phoneState(ctx, phoneNumber)
	if err != nil {
		return err
	}
	switch state {
	case PhoneUnverified:
		return NewValidationError(FieldPhoneNumber, MsgVerifyPhoneFirst)
	case PhoneRegistered:
		return NewValidationError(FieldPhoneNumber, MsgAlreadyRegistered)
	}

	ok, err := s.verification.CheckCode(ctx, phoneNumber, code)
	if err != nil {
		return err
	}
	if !ok {
		return NewValidationError(FieldAuthNumber, MsgCheckCode)
	}

	if state == PhoneConfirmedPlaceholder {
		return nil
	}

	placeholder := models.NewPlaceholder(uuid.New().String(), phoneNumber)
	placeholder.CreatedAt = s.clock.Now().UTC()
	placeholder.UpdatedAt = placeholder.CreatedAt

	err = s.accounts.CreatePlaceholder(ctx, placeholder)
	if err == nil {
		s.logger.WithField("account_id", placeholder.ID).Info("Placeholder account created")
		return nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("failed to create placeholder: %w", err)
	}

	// lost a race with a concurrent confirmation
	existing, err := s.accountByPhone(ctx, phoneNumber)
	if err != nil {
		return err
	}
	if existing.IsPlaceholder() {
		return nil
	}
	s.logger.WithField("phone", phoneNumber).Warn("Placeholder creation conflicted")
	return ErrConflict
}

// CompleteRegistration promotes the placeholder for in.PhoneNumber to a
// registered account. All field problems are reported together.
func (s *AuthService) CompleteRegistration(ctx context.Context, in RegistrationInput) (*models.Account, error) {
	ve := &ValidationError{}
	ve.Merge(s.validator.Struct(in))

	var placeholder *models.Account
	if _, bad := ve.Fields[FieldPhoneNumber]; !bad {
		var err error
		placeholder, err = s.registrablePlaceholder(ctx, in.PhoneNumber, ve)
		if err != nil {
			return nil, err
		}
	}

	if err := s.checkAvailability(ctx, in, ve); err != nil {
		return nil, err
	}

	_, p1Bad := ve.Fields[FieldPassword1]
	_, p2Bad := ve.Fields[FieldPassword2]
	if !p1Bad && !p2Bad {
		if in.Password1 != in.Password2 {
			ve.Add(FieldPassword2, MsgPasswordsDiffer)
		} else if problems := validation.CheckPassword(in.Password1, validation.PasswordAttributes{
			Username: in.Username,
			Email:    in.Email,
			Nickname: in.Nickname,
		}); len(problems) > 0 {
			ve.Add(FieldPassword1, problems...)
		}
	}

	if !ve.Empty() {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, ve
	}

	hash, err := s.hasher.Hash(in.Password1)
	if err != nil {
		return nil, err
	}

	registered, err := placeholder.Promote(models.Registration{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Nickname:     in.Nickname,
		Name:         in.Name,
	}, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to build account: %w", err)
	}

	if err := s.accounts.Register(ctx, placeholder, registered); err != nil {
		return nil, s.registrationError(ctx, in.PhoneNumber, err)
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.logger.WithField("account_id", registered.ID).Info("Account registered")
	return registered, nil
}

// registrablePlaceholder re-checks the phone state at registration time and
// records any problem on ve.
func (s *AuthService) registrablePlaceholder(ctx context.Context, phoneNumber string, ve *ValidationError) (*models.Account, error) {
	state, account, err := s.verification.phoneState(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	switch state {
	case PhoneUnverified, PhoneCodeSent:
		ve.Add(FieldPhoneNumber, MsgVerifyPhoneFirst)
		return nil, nil
	case PhoneRegistered:
		ve.Add(FieldPhoneNumber, MsgAlreadyRegistered)
		return nil, nil
	}
	return account, nil
}

func (s *AuthService) checkAvailability(ctx context.Context, in RegistrationInput, ve *ValidationError) error {
	checks := []struct {
		field   string
		value   string
		message string
		exists  func(context.Context, string) (bool, error)
	}{
		{FieldUsername, in.Username, MsgUsernameTaken, s.accounts.UsernameExists},
		{FieldEmail, in.Email, MsgEmailTaken, s.accounts.EmailExists},
		{FieldNickname, in.Nickname, MsgNicknameTaken, s.accounts.NicknameExists},
	}

	for _, check := range checks {
		if _, bad := ve.Fields[check.field]; bad {
			continue
		}
		taken, err := check.exists(ctx, check.value)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", check.field, err)
		}
		if taken {
			ve.Add(check.field, check.message)
		}
	}
	return nil
}

func (s *AuthService) registrationError(ctx context.Context, phoneNumber string, err error) error {
	var violation *repository.UniqueViolationError
	if errors.As(err, &violation) {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		ve := &ValidationError{}
		if violation.Has(repository.FieldUsername) {
			ve.Add(FieldUsername, MsgUsernameTaken)
		}
		if violation.Has(repository.FieldEmail) {
			ve.Add(FieldEmail, MsgEmailTaken)
		}
		if violation.Has(repository.FieldNickname) {
			ve.Add(FieldNickname, MsgNicknameTaken)
		}
		if !ve.Empty() {
			return ve
		}
		return ErrConflict
	}

	if errors.Is(err, repository.ErrConflict) {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		account, lookupErr := s.accountByPhone(ctx, phoneNumber)
		if lookupErr == nil && account.IsRegistered() {
			return NewValidationError(FieldPhoneNumber, MsgAlreadyRegistered)
		}
		return ErrConflict
	}

	metrics.RegistrationsTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("failed to register account: %w", err)
}

// IssueTempCredential resets the password of a registered account to its
// current verification code.
func (s *AuthService) IssueTempCredential(ctx context.Context, phoneNumber string, code int) error {
	if err := s.checkCodeFormat(phoneNumber, code); err != nil {
		return err
	}

	state, account, err := s.verification.phoneState(ctx, phoneNumber)
	if err != nil {
		return err
	}
	if state != PhoneRegistered {
		return NewValidationError(FieldPhoneNumber, MsgNotMember)
	}

	ok, err := s.verification.CheckCode(ctx, phoneNumber, code)
	if err != nil {
		return err
	}
	if !ok {
		return NewValidationError(FieldAuthNumber, MsgCheckCode)
	}

	hash, err := s.hasher.Hash(strconv.Itoa(code))
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set temporary password: %w", err)
	}

	s.logger.WithField("account_id", account.ID).Info("Temporary password issued")
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if fields := s.validator.Struct(in); fields != nil {
		return &ValidationError{Fields: fields}
	}

	account, err := s.accounts.GetByUsername(ctx, in.Username)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !account.IsRegistered()) {
		return NewValidationError(FieldUsername, MsgNotMember)
	}
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	ok, err := s.hasher.Compare(account.PasswordHash, in.OldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return NewValidationError(FieldOldPassword, MsgTempPasswordWrong)
	}

	if in.NewPassword1 != in.NewPassword2 {
		return NewValidationError(FieldNewPassword2, MsgPasswordsDiffer)
	}

	if problems := validation.CheckPassword(in.NewPassword1, validation.PasswordAttributes{
		Username: account.Username,
		Email:    account.Email,
		Nickname: account.Nickname,
	}); len(problems) > 0 {
		ve := &ValidationError{}
		ve.Add(FieldNewPassword2, problems...)
		return ve
	}

	hash, err := s.hasher.Hash(in.NewPassword1)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	s.logger.WithField("account_id", account.ID).Info("Password changed")
	return nil
}

// Login checks username and password of an active registered account.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.TokenPair, error) {
	account, err := s.accounts.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !account.IsRegistered() || !account.IsActive {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return s.tokens.GenerateTokenPair(account)
}

// IssueTokens returns a token pair for an account that just registered.
func (s *AuthService) IssueTokens(account *models.Account) (*models.TokenPair, error) {
	return s.tokens.GenerateTokenPair(account)
}

// Profile returns the registered account behind an access token.
func (s *AuthService) Profile(ctx context.Context, claims *Claims) (*models.Account, error) {
	account, err := s.accounts.GetByUsername(ctx, claims.Username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account.ID != claims.Subject || !account.IsRegistered() || !account.IsActive {
		return nil, ErrInvalidToken
	}
	return account, nil
}
