package models

import (
	"errors"
	"strings"
	"time"
)

type AccountStatus string

const (
	// StatusPlaceholder anchors a verified phone number that has not finished registration.
	StatusPlaceholder AccountStatus = "placeholder"
	// StatusRegistered is a fully registered account.
	StatusRegistered AccountStatus = "registered"
)

var (
	ErrInvalidStatus      = errors.New("invalid account status")
	ErrInvalidPlaceholder = errors.New("placeholder account must only carry its phone number")
	ErrIncompleteAccount  = errors.New("registered account is missing required fields")
)

type Account struct {
	ID           string        `json:"id" dynamodbav:"id"`
	Username     string        `json:"username" dynamodbav:"username"`
	PhoneNumber  string        `json:"phone_number" dynamodbav:"phone_number"`
	Email        string        `json:"email,omitempty" dynamodbav:"email,omitempty"`
	PasswordHash string        `json:"-" dynamodbav:"password_hash,omitempty"`
	Nickname     string        `json:"nickname,omitempty" dynamodbav:"nickname,omitempty"`
	Name         string        `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Status       AccountStatus `json:"status" dynamodbav:"status"`
	IsActive     bool          `json:"is_active" dynamodbav:"is_active"`
	IsStaff      bool          `json:"is_staff" dynamodbav:"is_staff"`
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" dynamodbav:"updated_at"`
}

// NewPlaceholder builds the account anchoring a freshly verified phone number.
func NewPlaceholder(id, phoneNumber string) *Account {
	return &Account{
		ID:          id,
		Username:    phoneNumber,
		PhoneNumber: phoneNumber,
		Status:      StatusPlaceholder,
		IsActive:    true,
	}
}

func (a *Account) IsPlaceholder() bool {
	return a != nil && a.Status == StatusPlaceholder
}

func (a *Account) IsRegistered() bool {
	return a != nil && a.Status == StatusRegistered
}

// Registration carries the fields that promote a placeholder.
type Registration struct {
	Username     string
	Email        string
	PasswordHash string
	Nickname     string
	Name         string
}

// Promote returns a registered copy of a placeholder account.
func (a *Account) Promote(reg Registration, now time.Time) (*Account, error) {
	if !a.IsPlaceholder() {
		return nil, ErrInvalidStatus
	}
	promoted := *a
	promoted.Username = reg.Username
	promoted.Email = reg.Email
	promoted.PasswordHash = reg.PasswordHash
	promoted.Nickname = reg.Nickname
	promoted.Name = reg.Name
	promoted.Status = StatusRegistered
	promoted.UpdatedAt = now
	if err := promoted.Validate(); err != nil {
		return nil, err
	}
	return &promoted, nil
}

// Validate checks the per-status field invariants.
func (a *Account) Validate() error {
	switch a.Status {
	case StatusPlaceholder:
		if a.Username != a.PhoneNumber || a.Email != "" || a.PasswordHash != "" || a.Nickname != "" || a.Name != "" {
			return ErrInvalidPlaceholder
		}
	case StatusRegistered:
		if a.Username == "" || a.Email == "" || a.PasswordHash == "" || a.Nickname == "" || a.Name == "" {
			return ErrIncompleteAccount
		}
	default:
		return ErrInvalidStatus
	}
	if a.PhoneNumber == "" {
		return ErrIncompleteAccount
	}
	return nil
}

// NormalizedEmail is the key used for case-insensitive email uniqueness.
func NormalizedEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Account) GetPK() string {
	return "ACCOUNT#" + a.ID
}

func (a *Account) GetSK() string {
	return "METADATA"
}
