package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("no active account found with the given credentials")
	ErrTooManyRequests    = errors.New("too many verification requests")
	ErrInvalidToken       = errors.New("token is invalid or expired")

	// ErrConflict is returned when a concurrent request changed the account
	// between our read and our write and the outcome cannot be decided.
	ErrConflict = errors.New("request conflicts with a concurrent change")
)

// User-facing messages.
const (
	MsgVerifyPhoneFirst   = "verify phone first"
	MsgAlreadyRegistered  = "already registered"
	MsgCheckCode          = "check the verification code"
	MsgNotMember          = "not a member"
	MsgTempPasswordWrong  = "temporary password mismatch"
	MsgPasswordsDiffer    = "passwords do not match"
	MsgUsernameTaken      = "a user with that username already exists"
	MsgEmailTaken         = "a user is already registered with this e-mail address"
	MsgNicknameTaken      = "a user with that nickname already exists"
	MsgCodeSent           = "verification code sent"
	MsgPhoneConfirmed     = "phone number confirmed"
	MsgTempPasswordIssued = "temporary password issued"
	MsgPasswordChanged    = "password changed"
)

// Field names used in ValidationError.
const (
	FieldPhoneNumber  = "phone_number"
	FieldAuthNumber   = "auth_number"
	FieldUsername     = "username"
	FieldEmail        = "email"
	FieldNickname     = "nickname"
	FieldName         = "name"
	FieldPassword1    = "password1"
	FieldPassword2    = "password2"
	FieldOldPassword  = "old_password"
	FieldNewPassword1 = "new_password1"
	FieldNewPassword2 = "new_password2"
	FieldMessage      = "message"
)

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

func (e *ValidationError) Add(field string, messages ...string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], messages...)
}

func (e *ValidationError) Merge(fields map[string][]string) {
	for field, messages := range fields {
		e.Add(field, messages...)
	}
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, field+": "+strings.Join(e.Fields[field], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
