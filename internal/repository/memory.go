package repository

import (
	"context"
	"sync"
	"time"

	"github.com/smsregister/smsregister/internal/models"
)

// MemoryVerificationStore is a process-local VerificationStore for
// development and tests.
type MemoryVerificationStore struct {
	mu      sync.Mutex
	records map[string]models.Verification
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{records: make(map[string]models.Verification)}
}

func (s *MemoryVerificationStore) Upsert(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[v.PhoneNumber] = *v
	return nil
}

func (s *MemoryVerificationStore) Get(_ context.Context, phoneNumber string) (*models.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[phoneNumber]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

// MemoryAccountStore is a process-local AccountStore. A single mutex makes
// every write and its uniqueness checks one critical section.
type MemoryAccountStore struct {
	mu         sync.Mutex
	accounts   map[string]models.Account
	byPhone    map[string]string
	byUsername map[string]string
	byEmail    map[string]string
	byNickname map[string]string
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts:   make(map[string]models.Account),
		byPhone:    make(map[string]string),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		byNickname: make(map[string]string),
	}
}

func (s *MemoryAccountStore) CreatePlaceholder(_ context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if !account.IsPlaceholder() {
		return models.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var violated []string
	if _, ok := s.accounts[account.ID]; ok {
		violated = append(violated, FieldID)
	}
	if _, ok := s.byPhone[account.PhoneNumber]; ok {
		violated = append(violated, FieldPhoneNumber)
	}
	if _, ok := s.byUsername[account.Username]; ok {
		violated = append(violated, FieldUsername)
	}
	if violated != nil {
		return &UniqueViolationError{Fields: violated}
	}

	s.accounts[account.ID] = *account
	s.byPhone[account.PhoneNumber] = account.ID
	s.byUsername[account.Username] = account.ID
	return nil
}

func (s *MemoryAccountStore) GetByPhoneNumber(_ context.Context, phoneNumber string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byPhone, phoneNumber)
}

func (s *MemoryAccountStore) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byUsername, username)
}

func (s *MemoryAccountStore) lookup(index map[string]string, key string) (*models.Account, error) {
	id, ok := index[key]
	if !ok {
		return nil, ErrNotFound
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (s *MemoryAccountStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *MemoryAccountStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[models.NormalizedEmail(email)]
	return ok, nil
}

func (s *MemoryAccountStore) NicknameExists(_ context.Context, nickname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byNickname[nickname]
	return ok, nil
}

func (s *MemoryAccountStore) Register(_ context.Context, previous, registered *models.Account) error {
	if !previous.IsPlaceholder() || previous.ID != registered.ID {
		return ErrConflict
	}
	if err := registered.Validate(); err != nil {
		return err
	}
	if !registered.IsRegistered() {
		return models.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[previous.ID]
	if !ok || !stored.IsPlaceholder() || stored.Username != previous.Username {
		return ErrConflict
	}

	var violated []string
	if id, ok := s.byUsername[registered.Username]; ok && id != registered.ID {
		violated = append(violated, FieldUsername)
	}
	email := models.NormalizedEmail(registered.Email)
	if _, ok := s.byEmail[email]; ok {
		violated = append(violated, FieldEmail)
	}
	if _, ok := s.byNickname[registered.Nickname]; ok {
		violated = append(violated, FieldNickname)
	}
	if violated != nil {
		return &UniqueViolationError{Fields: violated}
	}

	delete(s.byUsername, stored.Username)
	s.accounts[registered.ID] = *registered
	s.byUsername[registered.Username] = registered.ID
	s.byEmail[email] = registered.ID
	s.byNickname[registered.Nickname] = registered.ID
	return nil
}

func (s *MemoryAccountStore) UpdatePassword(_ context.Context, accountID, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = updatedAt
	s.accounts[accountID] = account
	return nil
}
