package service

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/config"
	"github.com/smsregister/smsregister/internal/models"
	"github.com/smsregister/smsregister/internal/repository"
	"github.com/smsregister/smsregister/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "01012345678"

type sentCode struct {
	phone string
	code  int
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (s *recordingSender) SendCode(_ context.Context, phoneNumber string, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentCode{phone: phoneNumber, code: code})
	return s.err
}

func (s *recordingSender) last(t *testing.T) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1].code
}

type testEnv struct {
	clock         *clockwork.FakeClock
	verifications *repository.MemoryVerificationStore
	accounts      *repository.MemoryAccountStore
	sender        *recordingSender
	verification  *VerificationService
	auth          *AuthService
	tokens        *JWTService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := quietLogger()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	env := &testEnv{
		clock:         clock,
		verifications: repository.NewMemoryVerificationStore(),
		accounts:      repository.NewMemoryAccountStore(),
		sender:        &recordingSender{},
	}

	env.verification = NewVerificationService(env.verifications, env.accounts, env.sender, nil, clock,
		&config.SMSConfig{Timeout: time.Second}, logger)

	tokens, err := NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  5 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}, clock, logger)
	require.NoError(t, err)
	env.tokens = tokens

	env.auth = NewAuthService(env.verification, env.accounts, NewBcryptHasher(4), tokens, clock, logger)
	return env
}

func (e *testEnv) requestCode(t *testing.T, phone string) int {
	t.Helper()
	require.NoError(t, e.verification.RequestCode(context.Background(), phone))
	return e.sender.last(t)
}

func validRegistration(phone string) RegistrationInput {
	return RegistrationInput{
		PhoneNumber: phone,
		Username:    "tester",
		Email:       "tester@example.com",
		Password1:   "blue-Harbor-42",
		Password2:   "blue-Harbor-42",
		Nickname:    "nick",
		Name:        "Tester",
	}
}

func (e *testEnv) register(t *testing.T, phone string) *models.Account {
	t.Helper()
	code := e.requestCode(t, phone)
	require.NoError(t, e.auth.ConfirmForSignup(context.Background(), phone, code))
	account, err := e.auth.CompleteRegistration(context.Background(), validRegistration(phone))
	require.NoError(t, err)
	return account
}

func fieldMessages(t *testing.T, err error) map[string][]string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Fields
}

func TestRequestCodeOverwritesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.requestCode(t, testPhone)
	env.clock.Advance(time.Minute)
	second := env.requestCode(t, testPhone)

	stored, err := env.verifications.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, second, stored.Code)
	assert.True(t, env.clock.Now().Equal(stored.IssuedAt))
	assert.GreaterOrEqual(t, stored.Code, models.MinCode)
	assert.LessOrEqual(t, stored.Code, models.MaxCode)

	if first != second {
		ok, err := env.verification.CheckCode(ctx, testPhone, first)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestRequestCodeRejectsBadPhone(t *testing.T) {
	env := newTestEnv(t)

	err := env.verification.RequestCode(context.Background(), "0101234")
	assert.Contains(t, fieldMessages(t, err), FieldPhoneNumber)
	assert.Empty(t, env.sender.sent)
}

func TestRequestCodeKeepsRecordWhenSMSFails(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("gateway down")

	require.NoError(t, env.verification.RequestCode(context.Background(), testPhone))

	_, err := env.verifications.Get(context.Background(), testPhone)
	assert.NoError(t, err)
}

func TestCheckCodeWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.requestCode(t, testPhone)

	env.clock.Advance(models.VerificationWindow)
	ok, err := env.verification.CheckCode(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)

	// replay inside the window is allowed
	ok, err = env.verification.CheckCode(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)

	env.clock.Advance(time.Second)
	ok, err = env.verification.CheckCode(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPhoneStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state, err := env.verification.PhoneStatus(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, PhoneUnverified, state)

	code := env.requestCode(t, testPhone)
	state, _ = env.verification.PhoneStatus(ctx, testPhone)
	assert.Equal(t, PhoneCodeSent, state)

	require.NoError(t, env.auth.ConfirmForSignup(ctx, testPhone, code))
	state, _ = env.verification.PhoneStatus(ctx, testPhone)
	assert.Equal(t, PhoneConfirmedPlaceholder, state)

	_, err = env.auth.CompleteRegistration(ctx, validRegistration(testPhone))
	require.NoError(t, err)
	state, _ = env.verification.PhoneStatus(ctx, testPhone)
	assert.Equal(t, PhoneRegistered, state)
}

func TestConfirmForSignupGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.auth.ConfirmForSignup(ctx, testPhone, 1234)
	assert.Equal(t, []string{MsgVerifyPhoneFirst}, fieldMessages(t, err)[FieldPhoneNumber])

	code := env.requestCode(t, testPhone)
	wrong := code + 1
	if wrong > models.MaxCode {
		wrong = models.MinCode
	}
	err = env.auth.ConfirmForSignup(ctx, testPhone, wrong)
	assert.Equal(t, []string{MsgCheckCode}, fieldMessages(t, err)[FieldAuthNumber])

	err = env.auth.ConfirmForSignup(ctx, testPhone, 999)
	assert.Contains(t, fieldMessages(t, err), FieldAuthNumber)

	// confirmation is idempotent
	require.NoError(t, env.auth.ConfirmForSignup(ctx, testPhone, code))
	require.NoError(t, env.auth.ConfirmForSignup(ctx, testPhone, code))
	account, err := env.accounts.GetByPhoneNumber(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, account.IsPlaceholder())
	assert.Equal(t, testPhone, account.Username)
}

func TestConfirmForSignupStaleCode(t *testing.T) {
	env := newTestEnv(t)
	code := env.requestCode(t, testPhone)

	env.clock.Advance(models.VerificationWindow + time.Second)
	err := env.auth.ConfirmForSignup(context.Background(), testPhone, code)
	assert.Equal(t, []string{MsgCheckCode}, fieldMessages(t, err)[FieldAuthNumber])

	_, err = env.accounts.GetByPhoneNumber(context.Background(), testPhone)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConfirmForSignupConcurrent(t *testing.T) {
	env := newTestEnv(t)
	code := env.requestCode(t, testPhone)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.auth.ConfirmForSignup(context.Background(), testPhone, code)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	account, err := env.accounts.GetByPhoneNumber(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, account.IsPlaceholder())
}

func TestConfirmForSignupAlreadyRegistered(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, testPhone)

	code := env.requestCode(t, testPhone)
	err := env.auth.ConfirmForSignup(context.Background(), testPhone, code)
	assert.Equal(t, []string{MsgAlreadyRegistered}, fieldMessages(t, err)[FieldPhoneNumber])
}

func TestCompleteRegistration(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, testPhone)

	assert.True(t, account.IsRegistered())
	assert.Equal(t, "tester", account.Username)
	assert.NotEqual(t, "blue-Harbor-42", account.PasswordHash)

	stored, err := env.accounts.GetByUsername(context.Background(), "tester")
	require.NoError(t, err)
	assert.Equal(t, account.ID, stored.ID)

	_, err = env.auth.CompleteRegistration(context.Background(), validRegistration(testPhone))
	assert.Equal(t, []string{MsgAlreadyRegistered}, fieldMessages(t, err)[FieldPhoneNumber])
}

func TestCompleteRegistrationRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.CompleteRegistration(context.Background(), validRegistration(testPhone))
	assert.Equal(t, []string{MsgVerifyPhoneFirst}, fieldMessages(t, err)[FieldPhoneNumber])

	// code sent but never confirmed
	env.requestCode(t, testPhone)
	_, err = env.auth.CompleteRegistration(context.Background(), validRegistration(testPhone))
	assert.Equal(t, []string{MsgVerifyPhoneFirst}, fieldMessages(t, err)[FieldPhoneNumber])
}

func TestCompleteRegistrationCollectsFieldErrors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, testPhone)

	other := "01099998888"
	code := env.requestCode(t, other)
	require.NoError(t, env.auth.ConfirmForSignup(context.Background(), other, code))

	in := validRegistration(other)
	in.Email = "TESTER@example.com"
	in.Name = "Te5ter"
	in.Password2 = "something-else"

	_, err := env.auth.CompleteRegistration(context.Background(), in)
	fields := fieldMessages(t, err)
	assert.Equal(t, []string{MsgUsernameTaken}, fields[FieldUsername])
	assert.Equal(t, []string{MsgEmailTaken}, fields[FieldEmail])
	assert.Equal(t, []string{MsgNicknameTaken}, fields[FieldNickname])
	assert.Contains(t, fields, FieldName)
	assert.Equal(t, []string{MsgPasswordsDiffer}, fields[FieldPassword2])

	account, err := env.accounts.GetByPhoneNumber(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, account.IsPlaceholder())
}

func TestCompleteRegistrationPasswordPolicy(t *testing.T) {
	env := newTestEnv(t)
	code := env.requestCode(t, testPhone)
	require.NoError(t, env.auth.ConfirmForSignup(context.Background(), testPhone, code))

	in := validRegistration(testPhone)
	in.Password1 = "12345678"
	in.Password2 = "12345678"

	_, err := env.auth.CompleteRegistration(context.Background(), in)
	assert.NotEmpty(t, fieldMessages(t, err)[FieldPassword1])
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, testPhone)

	code := env.requestCode(t, testPhone)
	require.NoError(t, env.auth.IssueTempCredential(ctx, testPhone, code))

	_, err := env.auth.Login(ctx, "tester", "blue-Harbor-42")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// the code itself is now the credential
	_, err = env.auth.Login(ctx, "tester", strconv.Itoa(code))
	require.NoError(t, err)

	err = env.auth.ChangePassword(ctx, ChangePasswordInput{
		Username:     "tester",
		OldPassword:  "0000",
		NewPassword1: "green-Valley-77",
		NewPassword2: "green-Valley-77",
	})
	assert.Equal(t, []string{MsgTempPasswordWrong}, fieldMessages(t, err)[FieldOldPassword])

	err = env.auth.ChangePassword(ctx, ChangePasswordInput{
		Username:     "tester",
		OldPassword:  strconv.Itoa(code),
		NewPassword1: "green-Valley-77",
		NewPassword2: "green-Valley-78",
	})
	assert.Equal(t, []string{MsgPasswordsDiffer}, fieldMessages(t, err)[FieldNewPassword2])

	require.NoError(t, env.auth.ChangePassword(ctx, ChangePasswordInput{
		Username:     "tester",
		OldPassword:  strconv.Itoa(code),
		NewPassword1: "green-Valley-77",
		NewPassword2: "green-Valley-77",
	}))

	pair, err := env.auth.Login(ctx, "tester", "green-Valley-77")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = env.auth.Login(ctx, "tester", strconv.Itoa(code))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Login(ctx, "tester", "blue-Harbor-42")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueTempCredentialGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.auth.IssueTempCredential(ctx, testPhone, 1234)
	assert.Equal(t, []string{MsgNotMember}, fieldMessages(t, err)[FieldPhoneNumber])

	code := env.requestCode(t, testPhone)
	err = env.auth.IssueTempCredential(ctx, testPhone, code)
	assert.Equal(t, []string{MsgNotMember}, fieldMessages(t, err)[FieldPhoneNumber])

	require.NoError(t, env.auth.ConfirmForSignup(ctx, testPhone, code))
	err = env.auth.IssueTempCredential(ctx, testPhone, code)
	assert.Equal(t, []string{MsgNotMember}, fieldMessages(t, err)[FieldPhoneNumber])

	_, err = env.auth.CompleteRegistration(ctx, validRegistration(testPhone))
	require.NoError(t, err)

	env.clock.Advance(models.VerificationWindow + time.Second)
	err = env.auth.IssueTempCredential(ctx, testPhone, code)
	assert.Equal(t, []string{MsgCheckCode}, fieldMessages(t, err)[FieldAuthNumber])
}

func TestChangePasswordUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.auth.ChangePassword(context.Background(), ChangePasswordInput{
		Username:     "ghost",
		OldPassword:  "1234",
		NewPassword1: "green-Valley-77",
		NewPassword2: "green-Valley-77",
	})
	assert.Equal(t, []string{MsgNotMember}, fieldMessages(t, err)[FieldUsername])

	err = env.auth.ChangePassword(context.Background(), ChangePasswordInput{Username: "ghost"})
	assert.Contains(t, fieldMessages(t, err), FieldOldPassword)
}

func TestLoginRejectsPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	code := env.requestCode(t, testPhone)
	require.NoError(t, env.auth.ConfirmForSignup(context.Background(), testPhone, code))

	_, err := env.auth.Login(context.Background(), testPhone, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokens(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, testPhone)

	pair, err := env.auth.IssueTokens(account)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(300), pair.ExpiresIn)

	claims, err := env.tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)

	profile, err := env.auth.Profile(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, "tester", profile.Username)

	_, err = env.tokens.VerifyAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	refreshed, err := env.tokens.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = env.tokens.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	env.clock.Advance(5*time.Minute + time.Second)
	_, err = env.tokens.VerifyAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.tokens.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, clockwork.NewRealClock(), quietLogger())
	assert.Error(t, err)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRedisRateLimiter(client, 2, 10*time.Minute, quietLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, testPhone)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(10*time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequestCodeThrottled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	env := newTestEnv(t)
	env.verification.limiter = NewRedisRateLimiter(client, 1, time.Minute, quietLogger())

	env.requestCode(t, testPhone)
	before, err := env.verifications.Get(context.Background(), testPhone)
	require.NoError(t, err)

	err = env.verification.RequestCode(context.Background(), testPhone)
	assert.ErrorIs(t, err, ErrTooManyRequests)

	after, err := env.verifications.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCodeFormatErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, op := range []func(context.Context, string, int) error{
		env.auth.ConfirmForSignup,
		env.auth.IssueTempCredential,
	} {
		fields := fieldMessages(t, op(ctx, "0101234", 99))
		assert.Equal(t, []string{validation.Message("phone")}, fields[FieldPhoneNumber])
		assert.Equal(t, []string{validation.Message("code")}, fields[FieldAuthNumber])
	}
}

// conflictingAccountStore fails Register the way a store does when a
// concurrent registration wins the race.
type conflictingAccountStore struct {
	*repository.MemoryAccountStore
	registerErr error
}

func (s *conflictingAccountStore) Register(context.Context, *models.Account, *models.Account) error {
	return s.registerErr
}

func TestCompleteRegistrationMapsStoreViolations(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantFields map[string][]string
		wantErr    error
	}{
		{
			name: "username and nickname taken",
			err:  &repository.UniqueViolationError{Fields: []string{repository.FieldUsername, repository.FieldNickname}},
			wantFields: map[string][]string{
				FieldUsername: {MsgUsernameTaken},
				FieldNickname: {MsgNicknameTaken},
			},
		},
		{
			name:       "email taken",
			err:        &repository.UniqueViolationError{Fields: []string{repository.FieldEmail}},
			wantFields: map[string][]string{FieldEmail: {MsgEmailTaken}},
		},
		{
			name:    "no user facing field",
			err:     &repository.UniqueViolationError{Fields: []string{repository.FieldID}},
			wantErr: ErrConflict,
		},
		{
			name:    "placeholder changed underneath",
			err:     repository.ErrConflict,
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			code := env.requestCode(t, testPhone)
			require.NoError(t, env.auth.ConfirmForSignup(ctx, testPhone, code))

			store := &conflictingAccountStore{MemoryAccountStore: env.accounts, registerErr: tt.err}
			auth := NewAuthService(env.verification, store, NewBcryptHasher(4), env.tokens, env.clock, quietLogger())

			_, err := auth.CompleteRegistration(ctx, validRegistration(testPhone))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantFields, ve.Fields)
		})
	}
}
