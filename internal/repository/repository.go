package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smsregister/smsregister/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict means the record changed state between read and write.
	ErrConflict = errors.New("record state conflict")
)

// Unique account attributes reported by UniqueViolationError.
const (
	FieldID          = "id"
	FieldPhoneNumber = "phone_number"
	FieldUsername    = "username"
	FieldEmail       = "email"
	FieldNickname    = "nickname"
)

// UniqueViolationError lists the unique attributes a write collided on.
type UniqueViolationError struct {
	Fields []string
}

func (e *UniqueViolationError) Error() string {
	return "unique constraint violated: " + strings.Join(e.Fields, ", ")
}

func (e *UniqueViolationError) Is(target error) bool {
	return target == ErrDuplicate
}

func (e *UniqueViolationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// VerificationStore keeps one verification record per phone number.
type VerificationStore interface {
	// Upsert atomically replaces the record for v.PhoneNumber.
	Upsert(ctx context.Context, v *models.Verification) error
	// Get returns ErrNotFound when no record exists for the phone number.
	Get(ctx context.Context, phoneNumber string) (*models.Verification, error)
}

// AccountStore persists accounts and enforces uniqueness of phone number,
// username, email and nickname.
type AccountStore interface {
	// CreatePlaceholder returns an error matching ErrDuplicate when the phone
	// number or username is already taken.
	CreatePlaceholder(ctx context.Context, account *models.Account) error
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	// Register replaces the placeholder previous with registered in one
	// atomic write. It fails with ErrConflict if previous is no longer the
	// stored placeholder and with *UniqueViolationError on collisions.
	Register(ctx context.Context, previous, registered *models.Account) error
	UpdatePassword(ctx context.Context, accountID, passwordHash string, updatedAt time.Time) error
}
