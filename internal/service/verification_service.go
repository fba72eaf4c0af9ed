package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/config"
	"github.com/smsregister/smsregister/internal/metrics"
	"github.com/smsregister/smsregister/internal/models"
	"github.com/smsregister/smsregister/internal/repository"
	"github.com/smsregister/smsregister/internal/sms"
	"github.com/smsregister/smsregister/internal/validation"
)

// PhoneState is where a phone number stands in the signup flow.
type PhoneState string

const (
	PhoneUnverified           PhoneState = "unverified"
	PhoneCodeSent             PhoneState = "code_sent"
	PhoneConfirmedPlaceholder PhoneState = "confirmed_placeholder"
	PhoneRegistered           PhoneState = "registered"
)

type VerificationService struct {
	verifications repository.VerificationStore
	accounts      repository.AccountStore
	sender        sms.Sender
	limiter       RateLimiter
	clock         clockwork.Clock
	smsTimeout    time.Duration
	logger        *logrus.Logger
}

func NewVerificationService(
	verifications repository.VerificationStore,
	accounts repository.AccountStore,
	sender sms.Sender,
	limiter RateLimiter,
	clock clockwork.Clock,
	cfg *config.SMSConfig,
	logger *logrus.Logger,
) *VerificationService {
	if limiter == nil {
		limiter = NoopRateLimiter{}
	}
	return &VerificationService{
		verifications: verifications,
		accounts:      accounts,
		sender:        sender,
		limiter:       limiter,
		clock:         clock,
		smsTimeout:    cfg.Timeout,
		logger:        logger,
	}
}

// RequestCode issues a fresh code for the phone number, replacing any
// previous one, and texts it. Delivery failures are logged, not returned.
func (s *VerificationService) RequestCode(ctx context.Context, phoneNumber string) error {
	if !validation.IsPhoneNumber(phoneNumber) {
		return NewValidationError(FieldPhoneNumber, validation.Message("phone"))
	}

	allowed, err := s.limiter.Allow(ctx, phoneNumber)
	if err != nil {
		return err
	}
	if !allowed {
		metrics.SendThrottledTotal.Inc()
		return ErrTooManyRequests
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	verification := &models.Verification{
		PhoneNumber: phoneNumber,
		Code:        code,
		IssuedAt:    s.clock.Now().UTC(),
	}
	if err := s.verifications.Upsert(ctx, verification); err != nil {
		return fmt.Errorf("failed to store verification: %w", err)
	}
	metrics.CodesIssuedTotal.Inc()

	s.dispatch(ctx, phoneNumber, code)
	return nil
}

func (s *VerificationService) dispatch(ctx context.Context, phoneNumber string, code int) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.smsTimeout)
	defer cancel()

	if err := s.sender.SendCode(sendCtx, phoneNumber, code); err != nil {
		metrics.SMSDispatchTotal.WithLabelValues("failed").Inc()
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to send verification SMS")
		return
	}
	metrics.SMSDispatchTotal.WithLabelValues("sent").Inc()
}

// CheckCode reports whether code is the live code for the phone number.
// Checking does not consume the code.
func (s *VerificationService) CheckCode(ctx context.Context, phoneNumber string, code int) (bool, error) {
	verification, err := s.verifications.Get(ctx, phoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.CodeChecksTotal.WithLabelValues("mismatch").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get verification: %w", err)
	}

	if !verification.Matches(code, s.clock.Now()) {
		metrics.CodeChecksTotal.WithLabelValues("mismatch").Inc()
		return false, nil
	}
	metrics.CodeChecksTotal.WithLabelValues("match").Inc()
	return true, nil
}

// PhoneStatus reports where phoneNumber stands in the signup flow.
func (s *VerificationService) PhoneStatus(ctx context.Context, phoneNumber string) (PhoneState, error) {
	state, _, err := s.phoneState(ctx, phoneNumber)
	return state, err
}

// phoneState also returns the account anchoring the phone number, nil while
// the state is PhoneUnverified or PhoneCodeSent.
func (s *VerificationService) phoneState(ctx context.Context, phoneNumber string) (PhoneState, *models.Account, error) {
	_, err := s.verifications.Get(ctx, phoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return PhoneUnverified, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to get verification: %w", err)
	}

	account, err := s.accounts.GetByPhoneNumber(ctx, phoneNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return PhoneCodeSent, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to get account: %w", err)
	}

	if account.IsRegistered() {
		return PhoneRegistered, account, nil
	}
	return PhoneConfirmedPlaceholder, account, nil
}

func generateCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(models.MaxCode-models.MinCode+1))
	if err != nil {
		return 0, err
	}
	return models.MinCode + int(n.Int64()), nil
}
